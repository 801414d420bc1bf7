package clips

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/bdougie/egogaze/internal/dataset"
	"github.com/bdougie/egogaze/internal/models"
)

type cut struct {
	source     string
	start, end int
	out        string
}

type fakeCutter struct {
	cuts []cut
	fail string
}

func (f *fakeCutter) CutClip(ctx context.Context, videoPath string, startFrame, endFrame int, fps float64, outPath string) error {
	if videoPath == f.fail {
		return errors.New("ffmpeg exited 1")
	}
	f.cuts = append(f.cuts, cut{videoPath, startFrame, endFrame, outPath})
	return os.WriteFile(outPath, nil, 0644)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFrameSpan(t *testing.T) {
	Convey("FrameSpan sorts frame numbers", t, func() {
		frames, err := FrameSpan([]string{"120.jpg", "30.jpg", "P01_R01_60.jpg"})
		So(err, ShouldBeNil)
		So(frames, ShouldResemble, []int{30, 60, 120})

		_, err = FrameSpan(nil)
		So(err, ShouldNotBeNil)
		_, err = FrameSpan([]string{"cover.jpg"})
		So(err, ShouldNotBeNil)
	})
}

func TestBuild(t *testing.T) {
	Convey("Given a keystep take and a long video", t, func() {
		root := t.TempDir()
		takesRoot := filepath.Join(root, "takes")
		videoDir := filepath.Join(takesRoot, "cooking_1", "frame_aligned_videos")
		So(os.MkdirAll(videoDir, 0755), ShouldBeNil)
		takeVideo := filepath.Join(videoDir, "aria01_214-1.mp4")
		So(os.WriteFile(takeVideo, nil, 0644), ShouldBeNil)

		resolver := NewResolver(map[string]dataset.Take{
			"uid-1": {TakeName: "cooking_1"},
			"uid-2": {TakeName: "no_video"},
		}, takesRoot, filepath.Join(root, "long"))

		items := []models.QAItem{
			{VideoID: "uid-1", GroupID: []string{"90.jpg", "30.jpg", "60.jpg"}, Question: "Why?", AnswerOptions: []string{"A: x"}, CorrectAnswer: "A"},
			{VideoID: "P01-R01", GroupID: []string{"10.jpg", "40.jpg"}, Question: "What?", AnswerOptions: []string{"B: y"}, CorrectAnswer: "B"},
			{VideoID: "uid-2", GroupID: []string{"1.jpg"}, Question: "Where?"},
			{VideoID: "P01-R01", GroupID: []string{"frame.jpg"}, Question: "Broken"},
		}

		cutter := &fakeCutter{}
		clipDir := filepath.Join(root, "clips")
		b := NewBuilder(cutter, resolver, clipDir, 0, discardLogger())
		byVideo, err := b.Build(context.Background(), items)
		So(err, ShouldBeNil)

		Convey("clips are cut from the resolved sources", func() {
			So(cutter.cuts, ShouldResemble, []cut{
				{takeVideo, 30, 90, filepath.Join(clipDir, "uid-1", "30_90.mp4")},
				{filepath.Join(root, "long", "P01-R01.mp4"), 10, 40, filepath.Join(clipDir, "P01-R01", "10_40.mp4")},
			})
		})

		Convey("clip items are grouped by video", func() {
			So(len(byVideo), ShouldEqual, 2)
			c := byVideo["uid-1"][0]
			So(c.ClipName, ShouldEqual, "30_90.mp4")
			So(c.Frames, ShouldResemble, []string{"30.jpg", "60.jpg", "90.jpg"})
			So(c.CorrectAnswer, ShouldEqual, "A")
		})

		Convey("clip items round-trip to evaluation questions", func() {
			path := filepath.Join(root, "temporal_egtea.json")
			So(Write(path, byVideo), ShouldBeNil)
			loaded, err := Read(path)
			So(err, ShouldBeNil)

			qs := QAItems(loaded)
			So(len(qs), ShouldEqual, 2)
			So(qs[0].VideoID, ShouldEqual, "P01-R01")
			So(qs[0].ClipName, ShouldEqual, "10_40.mp4")
			So(qs[1].GroupID, ShouldResemble, []string{"30.jpg", "60.jpg", "90.jpg"})
		})
	})

	Convey("Failed cuts are skipped", t, func() {
		root := t.TempDir()
		resolver := &Resolver{LongVideoDir: root}
		cutter := &fakeCutter{fail: filepath.Join(root, "v.mp4")}
		b := NewBuilder(cutter, resolver, filepath.Join(root, "clips"), 30, discardLogger())
		byVideo, err := b.Build(context.Background(), []models.QAItem{{VideoID: "v", GroupID: []string{"1.jpg"}}})
		So(err, ShouldBeNil)
		So(byVideo, ShouldBeEmpty)
	})
}

package gaze

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/bdougie/egogaze/internal/models"
	"github.com/bdougie/egogaze/internal/salience"
)

const narrationJSON = `{
  "vid_a": {"narrations": [
    {"timestamp_frame": 30, "narration_text": "pick up knife", "gaze_info": {"gaze_x": 0.25, "gaze_y": 0.5}},
    {"timestamp_frame": 60, "narration_text": "cut onion", "gaze_info": {"gaze_x": 0.75, "gaze_y": 0.5}},
    {"timestamp_frame": 90, "narration_text": "look away"}
  ]},
  "vid_b": {"narration_pass_1": {"narrations": [
    {"timestamp_frame": 7, "narration_text": "open fridge", "gaze_info": {"gaze_x": 0.1, "gaze_y": 0.2}}
  ]}}
}`

func TestNarrationStore(t *testing.T) {
	Convey("Given a narration file", t, func() {
		store, err := ReadNarrations(strings.NewReader(narrationJSON))
		So(err, ShouldBeNil)

		Convey("both layouts are read", func() {
			a, err := store.Narrations("vid_a")
			So(err, ShouldBeNil)
			So(a, ShouldHaveLength, 3)

			b, err := store.Narrations("vid_b")
			So(err, ShouldBeNil)
			So(b, ShouldHaveLength, 1)
			So(b[0].Text(), ShouldEqual, "open fridge")
		})

		Convey("lookup keeps frame order and marks gaps", func() {
			infos, err := store.Lookup("vid_a", []string{"60.jpg", "30.jpg", "90.jpg", "120.jpg"})
			So(err, ShouldBeNil)
			So(infos, ShouldHaveLength, 4)
			So(infos[0].GazeX, ShouldEqual, 0.75)
			So(infos[1].GazeX, ShouldEqual, 0.25)
			So(infos[2], ShouldBeNil)
			So(infos[3], ShouldBeNil)

			So(Fixations(infos), ShouldResemble, []salience.Fixation{{X: 0.75, Y: 0.5}, {X: 0.25, Y: 0.5}})
		})

		Convey("an unknown video is reported", func() {
			_, err := store.LatestByFrame("vid_z")
			So(errors.Is(err, ErrVideoNotFound), ShouldBeTrue)
			_, err = store.Lookup("vid_z", []string{"1.jpg"})
			So(errors.Is(err, ErrVideoNotFound), ShouldBeTrue)
		})

		Convey("a bad frame name is reported", func() {
			_, err := store.Lookup("vid_a", []string{"cover.jpg"})
			So(errors.Is(err, ErrFrameName), ShouldBeTrue)
		})
	})
}

func TestRepeatedFrameNarrations(t *testing.T) {
	Convey("Given two narrations on the same frame", t, func() {
		store, err := ReadNarrations(strings.NewReader(`{"vid_c": {"narrations": [
		  {"timestamp_frame": 12, "narration_text": "reach for pan", "gaze_info": {"gaze_x": 0.1, "gaze_y": 0.1}},
		  {"timestamp_frame": 12, "narration_text": "lift pan", "gaze_info": {"gaze_x": 0.9, "gaze_y": 0.9}}
		]}}`))
		So(err, ShouldBeNil)

		Convey("gaze lookup keeps the first", func() {
			first, err := store.ByFrame("vid_c")
			So(err, ShouldBeNil)
			So(first[12].Text(), ShouldEqual, "reach for pan")

			infos, err := store.Lookup("vid_c", []string{"12.jpg"})
			So(err, ShouldBeNil)
			So(infos[0].GazeX, ShouldEqual, 0.1)
		})

		Convey("the caption index keeps the last", func() {
			latest, err := store.LatestByFrame("vid_c")
			So(err, ShouldBeNil)
			So(latest, ShouldHaveLength, 1)
			So(latest[12].Text(), ShouldEqual, "lift pan")
			So(latest[12].GazeInfo.GazeX, ShouldEqual, 0.9)
		})
	})
}

func TestEstimateStore(t *testing.T) {
	Convey("Given an estimated-gaze CSV", t, func() {
		dir := t.TempDir()
		content := "frame,gaze\nP01_0012.jpg,\"(0.4,0.6)\"\nP01_0024.jpg,\"(0.5, 0.7)\"\n"
		So(os.WriteFile(filepath.Join(dir, "P01.csv"), []byte(content), 0644), ShouldBeNil)

		store, err := LoadEstimates(dir, "P01")
		So(err, ShouldBeNil)

		infos := store.Lookup([]string{"P01_0024.jpg", "P01_0036.jpg", " P01_0012.jpg"})
		So(infos[0], ShouldResemble, &models.GazeInfo{GazeX: 0.5, GazeY: 0.7})
		So(infos[1], ShouldBeNil)
		So(infos[2], ShouldResemble, &models.GazeInfo{GazeX: 0.4, GazeY: 0.6})

		Convey("a missing file is ErrVideoNotFound", func() {
			_, err := LoadEstimates(dir, "P02")
			So(errors.Is(err, ErrVideoNotFound), ShouldBeTrue)
		})

		Convey("a malformed point is an error", func() {
			_, err := ReadEstimates(strings.NewReader("frame,gaze\na.jpg,(0.1)\n"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestFrameNumber(t *testing.T) {
	Convey("Frame numbers come from the last underscore field of the stem", t, func() {
		cases := map[string]int{
			"123.jpg":           123,
			"take_uid/450.jpg":  450,
			"P01_R01_00042.jpg": 42,
			" 9.jpg ":           9,
			"frame_0001.jpg":    1,
		}
		for name, want := range cases {
			got, err := FrameNumber(name)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}

		_, err := FrameNumber("thumbnail.png")
		So(errors.Is(err, ErrFrameName), ShouldBeTrue)
	})
}

func TestMetrics(t *testing.T) {
	Convey("Gaze error metrics", t, func() {
		es := []*models.GazeInfo{{GazeX: 0.3, GazeY: 0.4}, nil, {GazeX: 1, GazeY: 1}}
		gd := []*models.GazeInfo{{GazeX: 0, GazeY: 0}, {GazeX: 0.5, GazeY: 0.5}, {GazeX: 1, GazeY: 1}}

		mse, ok := MSE(es, gd)
		So(ok, ShouldBeTrue)
		So(mse, ShouldAlmostEqual, 0.125, 1e-9)

		mae, ok := MAE(es, gd)
		So(ok, ShouldBeTrue)
		So(mae, ShouldAlmostEqual, 0.25, 1e-9)

		_, ok = MSE([]*models.GazeInfo{nil}, gd)
		So(ok, ShouldBeFalse)
	})

	Convey("Frame rate alignment repeats samples", t, func() {
		So(AlignFrameRate([]float64{1, 2}, 3), ShouldResemble, []float64{1, 1, 1, 2, 2, 2})
		So(AlignFrameRate([]float64{1, 2}, 1), ShouldResemble, []float64{1, 2})
	})

	Convey("Normalization rounds to three decimals", t, func() {
		So(Normalize(704, 352, 1408, 1408), ShouldResemble, models.GazeInfo{GazeX: 0.5, GazeY: 0.25})
		So(Normalize(100, 100, 3, 7).GazeX, ShouldEqual, 33.333)
	})
}

func TestCompare(t *testing.T) {
	Convey("Given estimates for some of the narrated videos", t, func() {
		dir := t.TempDir()
		So(os.WriteFile(filepath.Join(dir, "vid_a.csv"), []byte("frame,gaze\n30.jpg,\"(0.25,0.5)\"\n60.jpg,\"(0.75,0.9)\"\n"), 0644), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "vid_c.csv"), []byte("frame,gaze\n1.jpg,\"(0.1,0.1)\"\n"), 0644), ShouldBeNil)

		narrations, err := ReadNarrations(strings.NewReader(narrationJSON))
		So(err, ShouldBeNil)

		items := []models.QAItem{
			{VideoID: "vid_a", GroupID: []string{"30.jpg", "60.jpg"}},
			{VideoID: "vid_a", GroupID: []string{"90.jpg"}},
			{VideoID: "vid_b", GroupID: []string{"7.jpg"}},
			{VideoID: "vid_c", GroupID: []string{"1.jpg"}},
		}

		report, err := Compare(dir, narrations, items)
		So(err, ShouldBeNil)

		Convey("only groups with both sides are scored", func() {
			So(report.Groups, ShouldEqual, 1)
			So(report.MSE, ShouldAlmostEqual, 0.08, 1e-9)
			So(report.MAE, ShouldAlmostEqual, 0.2, 1e-9)
		})
	})

	Convey("No scored groups give a zero report", t, func() {
		narrations, err := ReadNarrations(strings.NewReader(narrationJSON))
		So(err, ShouldBeNil)
		report, err := Compare(t.TempDir(), narrations, []models.QAItem{{VideoID: "vid_a", GroupID: []string{"30.jpg"}}})
		So(err, ShouldBeNil)
		So(report, ShouldResemble, Report{})
	})
}

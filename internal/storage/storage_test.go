package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/bdougie/egogaze/internal/models"
)

func result(i int) models.EvalResult {
	return models.EvalResult{
		VideoID:         "OP01-R01-PastaSalad",
		ClipName:        fmt.Sprintf("clip_%d", i),
		Question:        fmt.Sprintf("What did the person look at, step %d?", i),
		AnswerOptions:   "A: cup\nB: bowl, with \"quotes\"",
		ModelAnswer:     "A",
		ReferenceAnswer: "A: cup",
	}
}

func TestFileStorage(t *testing.T) {
	Convey("Given a file storage in a temp dir", t, func() {
		path := filepath.Join(t.TempDir(), "results", "eval.csv")
		s := NewFileStorage(path)
		ctx := context.Background()

		Convey("nothing is written before a batch fills", func() {
			So(s.AddResult(ctx, result(0)), ShouldBeNil)
			_, err := os.Stat(path)
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("a full batch is written without Flush", func() {
			for i := 0; i < batchSize; i++ {
				So(s.AddResult(ctx, result(i)), ShouldBeNil)
			}
			got, err := ReadResults(path)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, batchSize)
		})

		Convey("results round-trip through Flush across batches", func() {
			for i := 0; i < batchSize+3; i++ {
				So(s.AddResult(ctx, result(i)), ShouldBeNil)
			}
			So(s.Flush(), ShouldBeNil)

			got, err := ReadResults(path)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, batchSize+3)
			So(got[0], ShouldResemble, result(0))
			So(got[batchSize+2].ClipName, ShouldEqual, fmt.Sprintf("clip_%d", batchSize+2))
		})

		Convey("an empty run still leaves a header-only file", func() {
			So(s.Flush(), ShouldBeNil)
			got, err := ReadResults(path)
			So(err, ShouldBeNil)
			So(got, ShouldBeEmpty)
		})

		Convey("a new run truncates the previous file", func() {
			So(s.AddResult(ctx, result(0)), ShouldBeNil)
			So(s.Flush(), ShouldBeNil)

			next := NewFileStorage(path)
			So(next.AddResult(ctx, result(7)), ShouldBeNil)
			So(next.Flush(), ShouldBeNil)

			got, err := ReadResults(path)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 1)
			So(got[0].ClipName, ShouldEqual, "clip_7")
		})
	})
}

func TestReadResultsLegacyHeader(t *testing.T) {
	Convey("Result files with the older column names are read", t, func() {
		path := filepath.Join(t.TempDir(), "legacy.csv")
		data := "video_id,Question,Answer Options,internvl_model_answer,Reference_Answer\n" +
			"v1,Which?,\"A: x\nB: y\",B,B: y\n"
		So(os.WriteFile(path, []byte(data), 0644), ShouldBeNil)

		got, err := ReadResults(path)
		So(err, ShouldBeNil)
		So(got, ShouldResemble, []models.EvalResult{{
			VideoID:         "v1",
			Question:        "Which?",
			AnswerOptions:   "A: x\nB: y",
			ModelAnswer:     "B",
			ReferenceAnswer: "B: y",
		}})
	})

	Convey("A file without answers is rejected", t, func() {
		path := filepath.Join(t.TempDir(), "bad.csv")
		So(os.WriteFile(path, []byte("video_id,question\nv1,q\n"), 0644), ShouldBeNil)
		_, err := ReadResults(path)
		So(err, ShouldNotBeNil)
	})
}

func TestQAPairs(t *testing.T) {
	Convey("Given a QA writer", t, func() {
		path := filepath.Join(t.TempDir(), "qa", "causal_egtea.csv")
		w := NewQAWriter(path)

		items := []models.QAItem{
			{
				VideoID:       "P01-R01-PastaSalad",
				GroupID:       []string{"P01_0010.jpg", "P01_0020.jpg"},
				Question:      "Why did the person open the fridge?",
				AnswerOptions: []string{"A: to get milk", "B: to close it", "C: to clean it"},
				CorrectAnswer: "A",
			},
			{
				VideoID:       "P02-R03-BaconAndEggs",
				GroupID:       []string{"P02_0100.jpg"},
				Question:      "Where is the pan, relative to the stove?",
				AnswerOptions: []string{"A: on it", "B: beside it"},
				CorrectAnswer: "B",
			},
		}
		for _, item := range items {
			So(w.Append(item), ShouldBeNil)
		}

		Convey("rows are appended under a single header and read back", func() {
			got, err := ReadQAPairs(path)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, items)
		})
	})

	Convey("A QA file missing group_id is rejected", t, func() {
		path := filepath.Join(t.TempDir(), "bad.csv")
		So(os.WriteFile(path, []byte("video_id,Question\nv,q\n"), 0644), ShouldBeNil)
		_, err := ReadQAPairs(path)
		So(err, ShouldNotBeNil)
	})
}

func TestAppendJSON(t *testing.T) {
	Convey("AppendJSON grows a JSON array", t, func() {
		path := filepath.Join(t.TempDir(), "log", "entries.json")
		So(AppendJSON(path, models.GenerationEntry{CurrentGroup: 0}), ShouldBeNil)
		So(AppendJSON(path, models.GenerationEntry{CurrentGroup: 1}), ShouldBeNil)

		data, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		So(string(data), ShouldContainSubstring, `"current_group": 1`)
	})
}

func TestTee(t *testing.T) {
	Convey("Tee writes every result to each store", t, func() {
		dir := t.TempDir()
		a := NewFileStorage(filepath.Join(dir, "a.csv"))
		b := NewFileStorage(filepath.Join(dir, "b.csv"))
		s := Tee(a, b)

		So(s.AddResult(context.Background(), result(1)), ShouldBeNil)
		So(s.Flush(), ShouldBeNil)

		for _, path := range []string{a.Path(), b.Path()} {
			got, err := ReadResults(path)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, []models.EvalResult{result(1)})
		}
	})
}

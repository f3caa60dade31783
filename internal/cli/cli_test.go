package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/ewaste/internal/domain/model"
	"github.com/okian/ewaste/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func runCmd(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func fakeService() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/detect", func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "no file", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(model.Report{
			OriginalImage:  "/api/images/1_" + header.Filename,
			AnnotatedImage: "/api/images/output_1_" + header.Filename,
			Detections: []model.EnrichedDetection{{
				Detection:            model.Detection{Label: "battery", Confidence: 0.9, Box: model.BoundingBox{X1: 1, Y1: 2, X2: 3, Y2: 4}},
				RecyclingSuggestions: []string{"Take to a battery drop-off"},
				ReuseIdeas:           []string{},
			}},
		})
	})
	mux.HandleFunc("GET /api/images/{name}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("annotated:" + r.PathValue("name")))
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(types.Statistics{
			TotalProcessedImages:  3,
			TotalDetections:       5,
			DetectionBreakdown:    map[string]int64{"laptop": 1, "battery": 4},
			ProcessingTimeAverage: 0.25,
		})
	})
	return httptest.NewServer(mux)
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func TestDetectCommand(t *testing.T) {
	Convey("Given a running service", t, func() {
		srv := fakeService()
		defer srv.Close()
		dir := t.TempDir()
		img := filepath.Join(dir, "a.png")
		writePNG(t, img, 8, 8)

		Convey("When detecting and saving annotated images", func() {
			out := filepath.Join(dir, "out")
			stdout, _, err := runCmd("detect", "--url", srv.URL, "--save-annotated", out, img)

			Convey("Then the report and the download should be produced", func() {
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "1 item(s)")
				So(stdout, ShouldContainSubstring, "battery (90.0%) at [1 2 3 4]")
				So(stdout, ShouldContainSubstring, "Take to a battery drop-off")
				So(stdout, ShouldContainSubstring, "reuse: none available")
				data, readErr := os.ReadFile(filepath.Join(out, "output_1_a.png"))
				So(readErr, ShouldBeNil)
				So(string(data), ShouldEqual, "annotated:output_1_a.png")
			})
		})

		Convey("When one of the files is missing", func() {
			stdout, stderr, err := runCmd("detect", "--url", srv.URL, "--json", img, filepath.Join(dir, "missing.png"))

			Convey("Then the failure should be reported alongside the success", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldEqual, "1 of 2 uploads failed")
				So(stderr, ShouldContainSubstring, "missing.png")
				var results []jsonResult
				So(json.Unmarshal([]byte(stdout), &results), ShouldBeNil)
				So(results, ShouldHaveLength, 2)
				So(results[0].Report, ShouldNotBeNil)
				So(results[1].Error, ShouldNotBeEmpty)
			})
		})

		Convey("When the confidence is out of range", func() {
			_, _, err := runCmd("detect", "--url", srv.URL, "--confidence", "2", img)

			Convey("Then it should be rejected before uploading", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "--confidence")
			})
		})
	})
}

func TestStatsCommand(t *testing.T) {
	Convey("Given a running service", t, func() {
		srv := fakeService()
		defer srv.Close()

		Convey("When printing statistics", func() {
			stdout, _, err := runCmd("stats", "--url", srv.URL)

			Convey("Then counters and a sorted breakdown should be shown", func() {
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "Images processed:   3")
				So(stdout, ShouldContainSubstring, "Average processing: 0.250s")
				So(bytes.Index([]byte(stdout), []byte("battery")), ShouldBeLessThan, bytes.Index([]byte(stdout), []byte("laptop")))
			})
		})
	})
}

func TestAnnotateCommand(t *testing.T) {
	Convey("Given an image and a detections file", t, func() {
		dir := t.TempDir()
		img := filepath.Join(dir, "board.png")
		writePNG(t, img, 100, 100)
		dets := filepath.Join(dir, "dets.json")

		Convey("When the detections are valid", func() {
			So(os.WriteFile(dets, []byte(`[{"class":"circuit board","confidence":0.8,"bbox":[10,40,50,80]}]`), 0o600), ShouldBeNil)
			out := filepath.Join(dir, "out.png")
			stdout, _, err := runCmd("annotate", "--detections", dets, "--out", out, img)

			Convey("Then an annotated image of the same size should be written", func() {
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "1 detection(s)")
				f, openErr := os.Open(out)
				So(openErr, ShouldBeNil)
				defer f.Close()
				decoded, decodeErr := png.Decode(f)
				So(decodeErr, ShouldBeNil)
				So(decoded.Bounds(), ShouldResemble, image.Rect(0, 0, 100, 100))
			})
		})

		Convey("When no output path is given", func() {
			So(os.WriteFile(dets, []byte(`[]`), 0o600), ShouldBeNil)
			_, _, err := runCmd("annotate", "--detections", dets, img)

			Convey("Then the output should land next to the input", func() {
				So(err, ShouldBeNil)
				_, statErr := os.Stat(filepath.Join(dir, "annotated_board.png"))
				So(statErr, ShouldBeNil)
			})
		})

		Convey("When a detection has no confidence", func() {
			So(os.WriteFile(dets, []byte(`[{"class":"battery","bbox":[10,40,50,80]}]`), 0o600), ShouldBeNil)
			_, _, err := runCmd("annotate", "--detections", dets, img)

			Convey("Then it should be rejected instead of drawn at zero", func() {
				So(errors.Is(err, model.ErrInvalidDetection), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "missing confidence")
			})
		})

		Convey("When a box is inverted", func() {
			So(os.WriteFile(dets, []byte(`[{"class":"battery","confidence":0.8,"bbox":[50,40,10,80]}]`), 0o600), ShouldBeNil)
			_, _, err := runCmd("annotate", "--detections", dets, img)

			Convey("Then nothing should be rendered", func() {
				So(errors.Is(err, model.ErrInvalidDetection), ShouldBeTrue)
			})
		})
	})
}

func TestKBCommand(t *testing.T) {
	Convey("Given the built-in knowledge base", t, func() {
		Convey("When resolving labels", func() {
			stdout, _, err := runCmd("kb", "Laptop Charger", "toaster")

			Convey("Then the first declared category should win", func() {
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "recycling: charger")
				So(stdout, ShouldContainSubstring, "reuse: charger")
				So(stdout, ShouldContainSubstring, "recycling: no match")
			})
		})

		Convey("When listing categories", func() {
			stdout, _, err := runCmd("kb")

			Convey("Then keys should be printed in match order", func() {
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "recycling: [battery circuit board charger mobile laptop adapter]")
				So(stdout, ShouldContainSubstring, "reuse: [circuit board charger mobile laptop]")
			})
		})

		Convey("When loading a custom file", func() {
			path := filepath.Join(t.TempDir(), "kb.yaml")
			So(os.WriteFile(path, []byte("recycling:\n  toaster:\n    - Strip the heating element\n"), 0o600), ShouldBeNil)
			stdout, _, err := runCmd("kb", "--file", path, "Toaster")

			Convey("Then it should be used instead of the built-in table", func() {
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "recycling: toaster")
				So(stdout, ShouldContainSubstring, "Strip the heating element")
				So(stdout, ShouldContainSubstring, "reuse: no match")
			})
		})
	})
}

package advisory_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/ewaste/internal/domain/advisory"
	"github.com/okian/ewaste/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type recordedBatch struct {
	detections []model.Detection
	elapsed    time.Duration
}

type fakeRecorder struct {
	mu      sync.Mutex
	batches []recordedBatch
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, detections []model.Detection, elapsed time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, recordedBatch{detections: detections, elapsed: elapsed})
	return f.err
}

func det(label string) model.Detection {
	return model.Detection{Label: label, Confidence: 0.8, Box: model.BoundingBox{X1: 1, Y1: 1, X2: 10, Y2: 10}}
}

func TestTable_Match(t *testing.T) {
	Convey("Given the default knowledge base", t, func() {
		kb := advisory.Default()

		Convey("When a label names a category in mixed case", func() {
			c, ok := kb.Recycling.Match("Laptop")

			Convey("Then the category should match", func() {
				So(ok, ShouldBeTrue)
				So(c.Key, ShouldEqual, "laptop")
				So(c.Items, ShouldHaveLength, 3)
			})
		})

		Convey("When a label contains two keys", func() {
			c, ok := kb.Recycling.Match("laptop charger")

			Convey("Then the earlier declared category should win", func() {
				So(ok, ShouldBeTrue)
				So(c.Key, ShouldEqual, "charger")
			})
		})

		Convey("When a key only appears inside a longer word", func() {
			c, ok := kb.Recycling.Match("mobile_phone")

			Convey("Then substring matching should still apply", func() {
				So(ok, ShouldBeTrue)
				So(c.Key, ShouldEqual, "mobile")
			})
		})

		Convey("When the label is empty", func() {
			_, recycling := kb.Recycling.Match("")
			_, reuse := kb.Reuse.Match("")

			Convey("Then nothing should match", func() {
				So(recycling, ShouldBeFalse)
				So(reuse, ShouldBeFalse)
			})
		})

		Convey("When a category has recycling advice but no reuse ideas", func() {
			_, recycling := kb.Recycling.Match("power adapter")
			_, reuse := kb.Reuse.Match("power adapter")

			Convey("Then only the recycling table should match", func() {
				So(recycling, ShouldBeTrue)
				So(reuse, ShouldBeFalse)
			})
		})

		Convey("Then the tables should keep declaration order", func() {
			So(kb.Recycling.Keys(), ShouldResemble, []string{"battery", "circuit board", "charger", "mobile", "laptop", "adapter"})
			So(kb.Reuse.Keys(), ShouldResemble, []string{"circuit board", "charger", "mobile", "laptop"})
		})
	})
}

func TestNewTable(t *testing.T) {
	Convey("Given table construction", t, func() {
		Convey("When keys need normalising", func() {
			tbl, err := advisory.NewTable("recycling", advisory.Category{Key: "  Battery ", Items: []string{"a"}})

			Convey("Then they should be trimmed and lower-cased", func() {
				So(err, ShouldBeNil)
				So(tbl.Keys(), ShouldResemble, []string{"battery"})
			})
		})

		Convey("When a key is empty", func() {
			_, err := advisory.NewTable("recycling", advisory.Category{Key: " "})

			Convey("Then construction should fail", func() {
				So(errors.Is(err, advisory.ErrInvalidKnowledgeBase), ShouldBeTrue)
			})
		})

		Convey("When a key is declared twice", func() {
			_, err := advisory.NewTable("reuse",
				advisory.Category{Key: "mobile"},
				advisory.Category{Key: "MOBILE"},
			)

			Convey("Then construction should fail", func() {
				So(errors.Is(err, advisory.ErrInvalidKnowledgeBase), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "twice")
			})
		})
	})
}

func TestLoad(t *testing.T) {
	Convey("Given a YAML knowledge base", t, func() {
		Convey("When the document is well formed", func() {
			kb, err := advisory.Load(strings.NewReader(`
recycling:
  laptop:
    - Separate battery before recycling
  battery:
    - Never bin it
reuse:
  laptop:
    - Media server
`))

			Convey("Then document order should be the match order", func() {
				So(err, ShouldBeNil)
				So(kb.Recycling.Keys(), ShouldResemble, []string{"laptop", "battery"})
				c, ok := kb.Recycling.Match("laptop battery")
				So(ok, ShouldBeTrue)
				So(c.Key, ShouldEqual, "laptop")
				So(kb.Reuse.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the reuse section is missing", func() {
			kb, err := advisory.Load(strings.NewReader("recycling:\n  battery:\n    - x\n"))

			Convey("Then the reuse table should be empty", func() {
				So(err, ShouldBeNil)
				So(kb.Reuse.Len(), ShouldEqual, 0)
				_, ok := kb.Reuse.Match("battery")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When an unknown table is present", func() {
			_, err := advisory.Load(strings.NewReader("disposal:\n  battery: [x]\n"))

			Convey("Then loading should fail", func() {
				So(errors.Is(err, advisory.ErrInvalidKnowledgeBase), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "disposal")
			})
		})

		Convey("When a category is not a list", func() {
			_, err := advisory.Load(strings.NewReader("recycling:\n  battery:\n    nested: true\n"))

			Convey("Then loading should fail", func() {
				So(errors.Is(err, advisory.ErrInvalidKnowledgeBase), ShouldBeTrue)
			})
		})

		Convey("When the document is empty", func() {
			_, err := advisory.Load(strings.NewReader(""))

			Convey("Then loading should fail", func() {
				So(errors.Is(err, advisory.ErrInvalidKnowledgeBase), ShouldBeTrue)
			})
		})
	})
}

func TestEngine_EnrichCustomTable(t *testing.T) {
	Convey("Given an engine over a custom recycling table and no reuse entries", t, func() {
		recycling, err := advisory.NewTable(advisory.TableRecycling,
			advisory.Category{Key: "battery", Items: []string{"A"}},
			advisory.Category{Key: "laptop", Items: []string{"B", "C"}},
		)
		So(err, ShouldBeNil)
		reuse, err := advisory.NewTable(advisory.TableReuse)
		So(err, ShouldBeNil)
		engine := advisory.NewEngine(advisory.KnowledgeBase{Recycling: recycling, Reuse: reuse})

		Convey("When enriching an old battery pack", func() {
			in := model.Detection{
				Label: "old battery pack", Confidence: 0.91,
				Box: model.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 50},
			}
			out := engine.Enrich(context.Background(), []model.Detection{in}, 0)

			Convey("Then only the battery advice should be attached", func() {
				So(out, ShouldHaveLength, 1)
				So(out[0].Detection, ShouldResemble, in)
				So(out[0].RecyclingSuggestions, ShouldResemble, []string{"A"})
				So(out[0].ReuseIdeas, ShouldNotBeNil)
				So(out[0].ReuseIdeas, ShouldBeEmpty)
			})
		})
	})
}

func TestEngine_Enrich(t *testing.T) {
	Convey("Given an engine over the default knowledge base", t, func() {
		rec := &fakeRecorder{}
		engine := advisory.NewEngine(advisory.Default(),
			advisory.WithRecorder(rec),
			advisory.WithLabelColor(func(label string) string { return "#" + label }),
		)
		ctx := context.Background()

		Convey("When enriching a mixed batch", func() {
			in := []model.Detection{det("Laptop"), det("Power Adapter"), det("widget")}
			out := engine.Enrich(ctx, in, 300*time.Millisecond)

			Convey("Then every detection should be kept in order", func() {
				So(out, ShouldHaveLength, 3)
				for i := range in {
					So(out[i].Detection, ShouldResemble, in[i])
				}
			})

			Convey("Then advice should follow the tables", func() {
				So(out[0].RecyclingSuggestions, ShouldContain, "Separate battery before recycling")
				So(out[0].ReuseIdeas, ShouldContain, "Convert to a digital photo frame")
				So(out[1].RecyclingSuggestions, ShouldHaveLength, 3)
				So(out[1].ReuseIdeas, ShouldNotBeNil)
				So(out[1].ReuseIdeas, ShouldBeEmpty)
				So(out[2].RecyclingSuggestions, ShouldNotBeNil)
				So(out[2].RecyclingSuggestions, ShouldBeEmpty)
			})

			Convey("Then the label colour should be attached", func() {
				So(out[0].Color, ShouldEqual, "#Laptop")
			})

			Convey("Then the batch should be recorded once with the raw detections", func() {
				So(rec.batches, ShouldHaveLength, 1)
				So(rec.batches[0].detections, ShouldResemble, in)
				So(rec.batches[0].elapsed, ShouldEqual, 300*time.Millisecond)
			})
		})

		Convey("When the caller mutates returned advice", func() {
			first := engine.Enrich(ctx, []model.Detection{det("battery")}, 0)
			first[0].RecyclingSuggestions[0] = "changed"
			second := engine.Enrich(ctx, []model.Detection{det("battery")}, 0)

			Convey("Then the knowledge base should be unaffected", func() {
				So(second[0].RecyclingSuggestions[0], ShouldEqual, "Recycle at certified e-waste centers")
			})
		})

		Convey("When the batch is empty", func() {
			out := engine.Enrich(ctx, nil, time.Millisecond)

			Convey("Then the image should still be recorded", func() {
				So(out, ShouldBeEmpty)
				So(rec.batches, ShouldHaveLength, 1)
			})
		})

		Convey("When the recorder fails", func() {
			rec.err = errors.New("store unavailable")
			out := engine.Enrich(ctx, []model.Detection{det("mobile")}, time.Millisecond)

			Convey("Then enrichment should still succeed", func() {
				So(out, ShouldHaveLength, 1)
				So(out[0].ReuseIdeas, ShouldHaveLength, 3)
			})
		})
	})

	Convey("Given an engine without a recorder or tables", t, func() {
		engine := advisory.NewEngine(advisory.KnowledgeBase{})

		Convey("When enriching", func() {
			out := engine.Enrich(context.Background(), []model.Detection{det("battery")}, 0)

			Convey("Then advice lists should be empty and non-nil", func() {
				So(out[0].RecyclingSuggestions, ShouldNotBeNil)
				So(out[0].ReuseIdeas, ShouldNotBeNil)
				So(out[0].Color, ShouldEqual, "")
			})
		})
	})
}

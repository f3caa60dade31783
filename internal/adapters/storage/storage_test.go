package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSecureFilename(t *testing.T) {
	Convey("Given client supplied file names", t, func() {
		cases := map[string]string{
			"photo.jpg":             "photo.jpg",
			"My Old Phone.png":      "My_Old_Phone.png",
			"../../etc/passwd":      "passwd",
			`C:\Users\me\board.JPG`: "board.JPG",
			".hidden.png":           "hidden.png",
			"bätterie (2).jpeg":     "btterie_2.jpeg",
			"...":                   "",
		}
		for in, want := range cases {
			So(SecureFilename(in), ShouldEqual, want)
		}
	})
}

func TestValidateName(t *testing.T) {
	Convey("Given stored image names", t, func() {
		Convey("When the name is flat and safe", func() {
			So(ValidateName("1700000000_ab12cd34_photo.jpg"), ShouldBeNil)
			So(ValidateName("output_1700000000_ab12cd34_photo.jpg"), ShouldBeNil)
		})

		Convey("When the name could escape the store", func() {
			for _, name := range []string{"", "../secret", "a/b.png", ".env", "a..b", `a\b`} {
				So(errors.Is(ValidateName(name), ErrInvalidName), ShouldBeTrue)
			}
		})
	})
}

func TestFSStore(t *testing.T) {
	Convey("Given a filesystem store", t, func() {
		dir := filepath.Join(t.TempDir(), "uploads")
		store, err := NewFSStore(dir)
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When an image is stored", func() {
			So(store.Put(ctx, "a.png", []byte("png-bytes")), ShouldBeNil)

			Convey("Then it should be readable back", func() {
				data, err := store.Get(ctx, "a.png")
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, "png-bytes")
			})

			Convey("Then no temporary files should remain", func() {
				entries, err := os.ReadDir(dir)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
			})

			Convey("Then overwriting should replace the content", func() {
				So(store.Put(ctx, "a.png", []byte("v2")), ShouldBeNil)
				data, _ := store.Get(ctx, "a.png")
				So(string(data), ShouldEqual, "v2")
			})
		})

		Convey("When an unknown image is requested", func() {
			_, err := store.Get(ctx, "missing.png")

			Convey("Then ErrNotFound should be returned", func() {
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When a traversal name is used", func() {
			putErr := store.Put(ctx, "../escape.png", []byte("x"))
			_, getErr := store.Get(ctx, "../escape.png")

			Convey("Then both operations should be refused", func() {
				So(errors.Is(putErr, ErrInvalidName), ShouldBeTrue)
				So(errors.Is(getErr, ErrInvalidName), ShouldBeTrue)
			})
		})

		Convey("Then Close should succeed", func() {
			So(store.Close(), ShouldBeNil)
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Given backend selection", t, func() {
		Convey("When the backend is fs", func() {
			s, err := Open(context.Background(), Config{Backend: BackendFS, Dir: t.TempDir()})

			Convey("Then a filesystem store should be returned", func() {
				So(err, ShouldBeNil)
				_, ok := s.(*FSStore)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When the backend is s3 without a bucket", func() {
			_, err := Open(context.Background(), Config{Backend: BackendS3})

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the backend is unknown", func() {
			_, err := Open(context.Background(), Config{Backend: "tape"})

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestRetryWrite(t *testing.T) {
	Convey("Given a flaky remote write", t, func() {
		ctx := context.Background()

		Convey("When it fails twice then succeeds", func() {
			attempts := 0
			err := retryWrite(ctx, time.Millisecond, 3, func(context.Context) error {
				attempts++
				if attempts < 3 {
					return errors.New("connection reset")
				}
				return nil
			})

			Convey("Then the write should eventually succeed", func() {
				So(err, ShouldBeNil)
				So(attempts, ShouldEqual, 3)
			})
		})

		Convey("When it keeps failing", func() {
			attempts := 0
			err := retryWrite(ctx, time.Millisecond, 2, func(context.Context) error {
				attempts++
				return errors.New("connection reset")
			})

			Convey("Then it should give up after the retry budget", func() {
				So(err, ShouldNotBeNil)
				So(attempts, ShouldEqual, 3)
			})
		})

		Convey("When the name is invalid", func() {
			attempts := 0
			err := retryWrite(ctx, time.Millisecond, 5, func(context.Context) error {
				attempts++
				return ErrInvalidName
			})

			Convey("Then it should not retry", func() {
				So(errors.Is(err, ErrInvalidName), ShouldBeTrue)
				So(attempts, ShouldEqual, 1)
			})
		})
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("EWASTE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EWASTE_TEST_REDIS_ADDR not set")
	}
	Convey("Given a Redis store", t, func() {
		ctx := context.Background()
		store, err := NewRedisStore(ctx, RedisOptions{Address: addr, Prefix: "ewaste:test:", TTL: time.Minute})
		So(err, ShouldBeNil)
		defer store.Close()

		Convey("When an image is stored and fetched", func() {
			So(store.Put(ctx, "r.png", []byte("redis-bytes")), ShouldBeNil)
			data, err := store.Get(ctx, "r.png")

			Convey("Then the bytes should round trip", func() {
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, "redis-bytes")
			})
		})

		Convey("When a key is missing", func() {
			_, err := store.Get(ctx, "never-stored.png")

			Convey("Then ErrNotFound should be returned", func() {
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestS3Store(t *testing.T) {
	endpoint := os.Getenv("EWASTE_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("EWASTE_TEST_S3_ENDPOINT not set")
	}
	Convey("Given an S3 store", t, func() {
		ctx := context.Background()
		store, err := NewS3Store(S3Options{
			Endpoint:  endpoint,
			Bucket:    os.Getenv("EWASTE_TEST_S3_BUCKET"),
			AccessKey: os.Getenv("EWASTE_TEST_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("EWASTE_TEST_S3_SECRET_KEY"),
		})
		So(err, ShouldBeNil)

		Convey("When an image is stored and fetched", func() {
			So(store.Put(ctx, "s.png", []byte("s3-bytes")), ShouldBeNil)
			data, err := store.Get(ctx, "s.png")

			Convey("Then the bytes should round trip", func() {
				So(err, ShouldBeNil)
				So(string(data), ShouldEqual, "s3-bytes")
			})
		})

		Convey("When a key is missing", func() {
			_, err := store.Get(ctx, "never-stored.png")

			Convey("Then ErrNotFound should be returned", func() {
				So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

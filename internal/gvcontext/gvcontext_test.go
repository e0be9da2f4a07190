package gvcontext_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitvan/gitvan/internal/config"
	"github.com/gitvan/gitvan/internal/gvcontext"
)

func TestGvcontext(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "gvcontext")
}

var _ = Describe("Context", func() {
	AfterEach(func() {
		os.Unsetenv("GITVAN_NOW")
	})

	It("honors GITVAN_NOW as a fixed clock captured once at construction", func() {
		Expect(os.Setenv("GITVAN_NOW", "2024-01-15T10:00:00Z")).To(Succeed())
		gv := gvcontext.New("/repo", config.Default())

		want := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		Expect(gv.Now()).To(Equal(want))

		Expect(os.Setenv("GITVAN_NOW", "2024-01-15T11:00:00Z")).To(Succeed())
		Expect(gv.Now()).To(Equal(want), "Now is fixed at construction time, not re-read from the environment")
	})

	It("falls back to the real clock when GITVAN_NOW is unset", func() {
		os.Unsetenv("GITVAN_NOW")
		gv := gvcontext.New("/repo", config.Default())
		Expect(gv.Now()).To(BeTemporally("~", time.Now(), time.Second))
	})

	It("With layers extra fields without mutating the original context", func() {
		base := gvcontext.New("/repo", config.Default())
		derived := base.With(map[string]any{"jobId": "build"})

		Expect(derived.Extra["jobId"]).To(Equal("build"))
		Expect(base.Extra["jobId"]).To(BeNil())
	})

	It("round-trips through context.Context via WithContext/From", func() {
		gv := gvcontext.New("/repo", config.Default())
		ctx := gvcontext.WithContext(context.Background(), gv)

		got, ok := gvcontext.From(ctx)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(gv))

		_, ok = gvcontext.From(context.Background())
		Expect(ok).To(BeFalse())
	})

	It("Run passes fn's error through untouched", func() {
		gv := gvcontext.New("/repo", config.Default())
		boom := errors.New("boom")
		err := gvcontext.Run(context.Background(), gv, func(ctx context.Context) error {
			found, ok := gvcontext.From(ctx)
			Expect(ok).To(BeTrue())
			Expect(found.Cwd).To(Equal("/repo"))
			return boom
		})
		Expect(err).To(Equal(boom))
	})
})

package discovery_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitvan/gitvan/internal/discovery"
)

func TestDiscovery(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "discovery")
}

var _ = Describe("Scanner", func() {
	var root string

	BeforeEach(func() {
		var err error
		root, err = os.MkdirTemp("", "gitvan-discovery-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(root) })
	})

	Describe("Jobs", func() {
		It("loads a job with an exec run and derives its id from the path", func() {
			path := filepath.Join(root, "jobs", "build.yaml")
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("meta:\n  name: build\nrun:\n  exec: [\"true\"]\n"), 0644)).To(Succeed())

			scanner := discovery.NewScanner(root, "jobs", "events", filepath.Join(root, "logs"), nil)
			defs, errs := scanner.Jobs()
			Expect(errs).To(BeEmpty())
			Expect(defs).To(HaveLen(1))
			Expect(defs[0].ID).To(Equal("build"))
			Expect(defs[0].Meta.Name).To(Equal("build"))
		})

		It("reports a DefinitionError for a job missing run", func() {
			path := filepath.Join(root, "jobs", "broken.yaml")
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("meta:\n  name: broken\n"), 0644)).To(Succeed())

			scanner := discovery.NewScanner(root, "jobs", "events", filepath.Join(root, "logs"), nil)
			defs, errs := scanner.Jobs()
			Expect(defs).To(BeEmpty())
			Expect(errs).To(HaveLen(1))
		})

		It("reuses the cached definition when content is unchanged", func() {
			path := filepath.Join(root, "jobs", "build.yaml")
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("run:\n  exec: [\"true\"]\n"), 0644)).To(Succeed())

			scanner := discovery.NewScanner(root, "jobs", "events", filepath.Join(root, "logs"), nil)
			first, errs := scanner.Jobs()
			Expect(errs).To(BeEmpty())
			second, errs := scanner.Jobs()
			Expect(errs).To(BeEmpty())
			Expect(second[0].ContentHash).To(Equal(first[0].ContentHash))
		})
	})

	Describe("Events", func() {
		It("infers a path predicate from an unrouted event filename", func() {
			path := filepath.Join(root, "events", "path", "src__star__.yaml")
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("job: build\n"), 0644)).To(Succeed())

			scanner := discovery.NewScanner(root, "jobs", "events", filepath.Join(root, "logs"), nil)
			defs, errs := scanner.Events()
			Expect(errs).To(BeEmpty())
			Expect(defs).To(HaveLen(1))
			Expect(defs[0].Predicate.Pattern).To(Equal("src*"))
			Expect(defs[0].Target.JobID).To(Equal("build"))
		})

		It("infers a cron predicate from an unrouted event filename", func() {
			path := filepath.Join(root, "events", "cron", "*", "5_*_*_*_*.yaml")
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("job: build\n"), 0644)).To(Succeed())

			scanner := discovery.NewScanner(root, "jobs", "events", filepath.Join(root, "logs"), nil)
			defs, errs := scanner.Events()
			Expect(errs).To(BeEmpty())
			Expect(defs).To(HaveLen(1))
			Expect(defs[0].Predicate.Kind).To(BeEquivalentTo("cron"))
			Expect(defs[0].Predicate.Expr).To(Equal("*/5 * * * *"))
		})

		It("prefers explicit YAML fields over inference", func() {
			path := filepath.Join(root, "events", "path", "src__star__.yaml")
			Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
			Expect(os.WriteFile(path, []byte("type: path\npattern: docs/**\njob: build\n"), 0644)).To(Succeed())

			scanner := discovery.NewScanner(root, "jobs", "events", filepath.Join(root, "logs"), nil)
			defs, errs := scanner.Events()
			Expect(errs).To(BeEmpty())
			Expect(defs[0].Predicate.Pattern).To(Equal("docs/**"))
		})
	})
})

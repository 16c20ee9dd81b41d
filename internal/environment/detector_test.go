package environment_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-starter/internal/environment"
)

func newDetector(vars map[string]string, host string, files ...string) *environment.Detector {
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f] = true
	}
	return environment.NewDetector(
		environment.WithLookupEnv(func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		}),
		environment.WithHostname(func() (string, error) {
			if host == "" {
				return "", errors.New("no hostname")
			}
			return host, nil
		}),
		environment.WithFileExists(func(path string) bool { return present[path] }),
	)
}

var _ = Describe("Detector", func() {
	Describe("Detect", func() {
		It("should default to development without signals", func() {
			info := newDetector(nil, "").Detect(environment.ContextDefault)
			Expect(info.Environment).To(Equal(environment.Development))
			Expect(info.Confidence).To(Equal(0.5))
			Expect(info.Reasoning).To(Equal("no signals"))
			Expect(info.AdditionalSignals).To(BeEmpty())
		})

		It("should prefer explicit environment variables", func() {
			d := newDetector(map[string]string{"ENVIRONMENT": "prod", "DEBUG": "true"}, "dev-box")
			info := d.Detect(environment.ContextDefault)
			Expect(info.Environment).To(Equal(environment.Production))
			Expect(info.Confidence).To(Equal(0.95))
			Expect(info.DetectedBy).To(Equal("env_var:ENVIRONMENT"))
			Expect(info.AdditionalSignals).To(HaveLen(2))
			Expect(info.IsProduction()).To(BeTrue())
		})

		It("should ignore unrecognised explicit values", func() {
			d := newDetector(map[string]string{"ENVIRONMENT": "banana"}, "")
			info := d.Detect(environment.ContextDefault)
			Expect(info.DetectedBy).To(Equal("default"))
		})

		It("should read the last segment of DJANGO_SETTINGS_MODULE", func() {
			d := newDetector(map[string]string{"DJANGO_SETTINGS_MODULE": "site.settings.staging"}, "")
			Expect(d.Detect(environment.ContextDefault).Environment).To(Equal(environment.Staging))
		})

		It("should detect CI as testing", func() {
			d := newDetector(map[string]string{"CI": "true"}, "")
			info := d.Detect(environment.ContextDefault)
			Expect(info.Environment).To(Equal(environment.Testing))
			Expect(info.Confidence).To(Equal(0.8))
		})

		It("should ignore CI explicitly set to false", func() {
			d := newDetector(map[string]string{"CI": "false"}, "")
			Expect(d.Detect(environment.ContextDefault).DetectedBy).To(Equal("default"))
		})

		It("should use hostname patterns", func() {
			d := newDetector(nil, "api-staging-01")
			info := d.Detect(environment.ContextDefault)
			Expect(info.Environment).To(Equal(environment.Staging))
			Expect(info.DetectedBy).To(Equal("hostname_pattern"))
		})

		It("should rank hostname above file indicators", func() {
			d := newDetector(nil, "web-prod-3", ".git")
			info := d.Detect(environment.ContextDefault)
			Expect(info.Environment).To(Equal(environment.Production))
			Expect(info.AdditionalSignals).To(HaveLen(1))
			Expect(info.AdditionalSignals[0].Source).To(Equal("file_indicator:.git"))
		})

		It("should treat a docker marker as a weak production hint", func() {
			d := newDetector(nil, "", "/.dockerenv")
			info := d.Detect(environment.ContextDefault)
			Expect(info.Environment).To(Equal(environment.Production))
			Expect(info.Confidence).To(Equal(0.4))
		})
	})

	Describe("feature contexts", func() {
		It("should upgrade to production when auth is enforced", func() {
			d := newDetector(map[string]string{"ENVIRONMENT": "development", "ENFORCE_AUTH": "true"}, "")
			info := d.Detect(environment.ContextSecurityEnforcement)
			Expect(info.Environment).To(Equal(environment.Production))
			Expect(info.Confidence).To(Equal(0.9))
			Expect(info.AdditionalSignals[0].Environment).To(Equal(environment.Development))

			plain := d.Detect(environment.ContextDefault)
			Expect(plain.Environment).To(Equal(environment.Development))
		})

		It("should record the AI cache prefix", func() {
			d := newDetector(map[string]string{"ENABLE_AI_CACHE": "true"}, "")
			info := d.Detect(environment.ContextAIEnabled)
			Expect(info.Metadata).To(HaveKeyWithValue("ai_prefix", "ai:"))
		})
	})

	Describe("memoisation", func() {
		It("should cache results until Reset", func() {
			vars := map[string]string{"ENVIRONMENT": "staging"}
			d := newDetector(vars, "")
			Expect(d.Detect(environment.ContextDefault).Environment).To(Equal(environment.Staging))

			vars["ENVIRONMENT"] = "production"
			Expect(d.Detect(environment.ContextDefault).Environment).To(Equal(environment.Staging))

			d.Reset()
			Expect(d.Detect(environment.ContextDefault).Environment).To(Equal(environment.Production))
		})

		It("should share the default entry between unknown contexts", func() {
			vars := map[string]string{"ENVIRONMENT": "staging"}
			d := newDetector(vars, "")

			first := d.Detect(environment.FeatureContext("ctx-1"))
			Expect(first.FeatureContext).To(Equal(environment.ContextDefault))

			vars["ENVIRONMENT"] = "production"
			for i := range 100 {
				info := d.Detect(environment.FeatureContext(fmt.Sprintf("ctx-%d", i)))
				Expect(info.FeatureContext).To(Equal(environment.ContextDefault))
				Expect(info.Environment).To(Equal(environment.Staging))
			}
		})
	})

	Describe("Info helpers", func() {
		DescribeTable("classifies the environment",
			func(env environment.Environment, production, development bool) {
				info := environment.Info{Environment: env}
				Expect(info.IsProduction()).To(Equal(production))
				Expect(info.IsDevelopment()).To(Equal(development))
			},
			Entry("development", environment.Development, false, true),
			Entry("production", environment.Production, true, false),
			Entry("staging", environment.Staging, false, false),
			Entry("unknown", environment.Unknown, false, false),
		)

		It("should report development when nothing else is detected", func() {
			Expect(newDetector(nil, "").Detect(environment.ContextDefault).IsDevelopment()).To(BeTrue())
		})
	})

	Describe("ParseFeatureContext", func() {
		It("should accept every declared context", func() {
			for _, fc := range environment.FeatureContexts() {
				parsed, err := environment.ParseFeatureContext(string(fc))
				Expect(err).NotTo(HaveOccurred())
				Expect(parsed).To(Equal(fc))
			}
		})

		It("should default an empty value", func() {
			Expect(environment.ParseFeatureContext("")).To(Equal(environment.ContextDefault))
		})

		It("should reject unknown contexts", func() {
			_, err := environment.ParseFeatureContext("ctx-42")
			Expect(err).To(MatchError(environment.ErrUnknownContext))
		})
	})

	Describe("Parse", func() {
		DescribeTable("maps aliases",
			func(in string, want environment.Environment) {
				Expect(environment.Parse(in)).To(Equal(want))
			},
			Entry("dev", "dev", environment.Development),
			Entry("local", "LOCAL", environment.Development),
			Entry("ci", "ci", environment.Testing),
			Entry("stage", "stage", environment.Staging),
			Entry("live", "live", environment.Production),
			Entry("other", "qa-cluster", environment.Unknown),
		)
	})
})

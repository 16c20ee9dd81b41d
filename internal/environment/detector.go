package environment

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const (
	confidenceExplicit = 0.95
	confidenceSystem   = 0.8
	confidenceDebug    = 0.7
	confidenceHostname = 0.6
	confidenceFile     = 0.5
	confidenceDocker   = 0.4
	confidenceDefault  = 0.5
	confidenceEnforced = 0.9
)

// explicitVariables are checked in order; the first one set wins among
// equally confident explicit signals.
var explicitVariables = []string{
	"ENVIRONMENT",
	"NODE_ENV",
	"FLASK_ENV",
	"APP_ENV",
	"ENV",
	"DEPLOYMENT_ENV",
	"DJANGO_SETTINGS_MODULE",
	"RAILS_ENV",
}

var hostnamePatterns = []struct {
	re  *regexp.Regexp
	env Environment
}{
	{regexp.MustCompile(`(?i)(^|[-_.])(dev|local)([-_.0-9]|$)`), Development},
	{regexp.MustCompile(`(?i)(^|[-_.])(test|ci)([-_.0-9]|$)`), Testing},
	{regexp.MustCompile(`(?i)(^|[-_.])(staging|stage)([-_.0-9]|$)`), Staging},
	{regexp.MustCompile(`(?i)(^|[-_.])(prod|live)([-_.0-9]|$)`), Production},
}

var developmentFiles = []string{".env", ".git", "docker-compose.dev.yml"}

// Detector inspects the process environment. Lookups are injectable so the
// detection rules can be exercised without touching the real host.
type Detector struct {
	lookupEnv  func(string) (string, bool)
	hostname   func() (string, error)
	fileExists func(string) bool

	mutex sync.Mutex
	cache map[FeatureContext]Info
}

// Option customises a Detector.
type Option func(*Detector)

func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(d *Detector) { d.lookupEnv = fn }
}

func WithHostname(fn func() (string, error)) Option {
	return func(d *Detector) { d.hostname = fn }
}

func WithFileExists(fn func(string) bool) Option {
	return func(d *Detector) { d.fileExists = fn }
}

func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		lookupEnv: os.LookupEnv,
		hostname:  os.Hostname,
		fileExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		cache: make(map[FeatureContext]Info),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the environment for the given feature context. Results are
// memoised per context until Reset is called. Unknown contexts are treated
// as ContextDefault.
func (d *Detector) Detect(ctx FeatureContext) Info {
	if !ctx.Known() {
		ctx = ContextDefault
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if info, ok := d.cache[ctx]; ok {
		return info
	}

	info := d.detect(ctx)
	d.cache[ctx] = info
	return info
}

// Reset drops memoised results.
func (d *Detector) Reset() {
	d.mutex.Lock()
	d.cache = make(map[FeatureContext]Info)
	d.mutex.Unlock()
}

func (d *Detector) detect(ctx FeatureContext) Info {
	signals := d.collectSignals()

	info := Info{
		Environment:    Development,
		Confidence:     confidenceDefault,
		Reasoning:      "no signals",
		DetectedBy:     "default",
		FeatureContext: ctx,
		Metadata:       map[string]any{},
	}

	if len(signals) > 0 {
		// Stable sort keeps source order among equal confidences.
		sort.SliceStable(signals, func(i, j int) bool {
			return signals[i].Confidence > signals[j].Confidence
		})
		best := signals[0]
		info.Environment = best.Environment
		info.Confidence = best.Confidence
		info.Reasoning = best.Reasoning
		info.DetectedBy = best.Source
		info.AdditionalSignals = signals[1:]
	}

	d.applyFeatureContext(&info)
	return info
}

func (d *Detector) collectSignals() []Signal {
	var signals []Signal

	for _, name := range explicitVariables {
		value, ok := d.lookupEnv(name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		env := parseExplicit(name, value)
		if env == Unknown {
			continue
		}
		signals = append(signals, Signal{
			Source:      "env_var:" + name,
			Value:       value,
			Environment: env,
			Confidence:  confidenceExplicit,
			Reasoning:   fmt.Sprintf("explicit environment from %s=%s", name, value),
		})
	}

	for _, name := range []string{"CI", "GITHUB_ACTIONS", "JENKINS_URL"} {
		if value, ok := d.lookupEnv(name); ok && value != "" && !isFalse(value) {
			signals = append(signals, Signal{
				Source:      "system_indicator:" + name,
				Value:       value,
				Environment: Testing,
				Confidence:  confidenceSystem,
				Reasoning:   fmt.Sprintf("CI indicator %s is set", name),
			})
		}
	}

	if value, ok := d.lookupEnv("DEBUG"); ok && isTrue(value) {
		signals = append(signals, Signal{
			Source:      "system_indicator:DEBUG",
			Value:       value,
			Environment: Development,
			Confidence:  confidenceDebug,
			Reasoning:   "DEBUG mode enabled",
		})
	}

	for _, name := range []string{"PRODUCTION", "PROD"} {
		if value, ok := d.lookupEnv(name); ok && isTrue(value) {
			signals = append(signals, Signal{
				Source:      "system_indicator:" + name,
				Value:       value,
				Environment: Production,
				Confidence:  confidenceSystem,
				Reasoning:   fmt.Sprintf("%s flag enabled", name),
			})
		}
	}

	if host, err := d.hostname(); err == nil && host != "" {
		for _, p := range hostnamePatterns {
			if p.re.MatchString(host) {
				signals = append(signals, Signal{
					Source:      "hostname_pattern",
					Value:       host,
					Environment: p.env,
					Confidence:  confidenceHostname,
					Reasoning:   fmt.Sprintf("hostname %q matches %s pattern", host, p.env),
				})
				break
			}
		}
	}

	for _, file := range developmentFiles {
		if d.fileExists(file) {
			signals = append(signals, Signal{
				Source:      "file_indicator:" + file,
				Value:       file,
				Environment: Development,
				Confidence:  confidenceFile,
				Reasoning:   fmt.Sprintf("development file %s present", file),
			})
			break
		}
	}

	if d.fileExists("/.dockerenv") {
		signals = append(signals, Signal{
			Source:      "file_indicator:/.dockerenv",
			Value:       "/.dockerenv",
			Environment: Production,
			Confidence:  confidenceDocker,
			Reasoning:   "running inside a container",
		})
	}

	return signals
}

func (d *Detector) applyFeatureContext(info *Info) {
	switch info.FeatureContext {
	case ContextAIEnabled:
		if value, ok := d.lookupEnv("ENABLE_AI_CACHE"); ok && isTrue(value) {
			info.Metadata["ai_prefix"] = "ai:"
			info.Metadata["enable_ai_cache"] = true
		}
	case ContextSecurityEnforcement:
		if value, ok := d.lookupEnv("ENFORCE_AUTH"); ok && isTrue(value) {
			previous := Signal{
				Source:      info.DetectedBy,
				Environment: info.Environment,
				Confidence:  info.Confidence,
				Reasoning:   info.Reasoning,
			}
			info.AdditionalSignals = append([]Signal{previous}, info.AdditionalSignals...)
			info.Environment = Production
			info.Confidence = confidenceEnforced
			info.Reasoning = "ENFORCE_AUTH=true requires production security rules"
			info.DetectedBy = "feature_context:security_enforcement"
			info.Metadata["enforce_auth"] = true
		}
	}
}

func parseExplicit(name, value string) Environment {
	if name == "DJANGO_SETTINGS_MODULE" {
		// e.g. "project.settings.production"
		parts := strings.Split(value, ".")
		value = parts[len(parts)-1]
	}
	return Parse(value)
}

func isTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func isFalse(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "0", "false", "no", "off":
		return true
	}
	return false
}

// Package registry loads the process-wide lookup tables used by parsing, mapping and
// scoring: lab synonyms, target units, unit conversions, feature aliases, derivation
// rules, imputation defaults, feature schemas and per-task scoring configuration.
//
// A Registry is built once at start-up and is read-only afterwards. Invalid or missing
// documents never abort loading unless strict mode is on; they leave an empty table
// behind and are reported as LoadIssues.
package registry

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/pkg/labs"
	"github.com/labscore-server/pkg/units"
)

//go:embed defaults
var defaultsFS embed.FS

// Document names inside a registry directory.
const (
	DocLabs        = "labs_map.json"
	DocUnits       = "units.json"
	DocConversions = "conversions.json"
	DocAliases     = "aliases.json"
	DocDerivations = "derivations.json"
	DocImputation  = "imputation.json"
	DocFeatures    = "features.json"
	rangesDir      = "ranges"
)

// rangeFiles maps tasks to their scoring configuration file. Tasks without an entry are
// scored from the model probability alone.
var rangeFiles = map[domain.Task]string{
	domain.TaskHeart:      "heart.json",
	domain.TaskDiabetes:   "diabetes.json",
	domain.TaskParkinsons: "parkinsons.json",
	domain.TaskAnemiaTab:  "anemia.json",
}

// LoadIssue records a document that could not be used.
type LoadIssue struct {
	Document string `json:"document"`
	Err      error  `json:"-"`
	Message  string `json:"message"`
}

func (i LoadIssue) Error() string {
	return fmt.Sprintf("%s: %v", i.Document, i.Err)
}

func (i LoadIssue) Unwrap() error {
	return i.Err
}

// Registry holds the immutable lookup tables.
type Registry struct {
	canonicalizer *labs.Canonicalizer
	normalizer    *units.Normalizer
	aliases       map[string]string
	derivations   map[domain.Task][]DerivationRule
	imputation    map[domain.Task][]ImputedDefault
	features      map[domain.Task][]FeatureSpec
	scoring       map[domain.Task]*domain.ScoringConfig
	issues        []LoadIssue
}

type loader struct {
	fsys     fs.FS
	logger   *logrus.Logger
	validate *validator.Validate
	issues   []LoadIssue
}

// Load builds a registry from cfg.ConfigDir, or from the embedded defaults when the
// directory is empty. In strict mode any LoadIssue fails the load.
func Load(cfg domain.RegistryConfig, logger *logrus.Logger) (*Registry, error) {
	var fsys fs.FS
	if cfg.ConfigDir == "" {
		sub, err := fs.Sub(defaultsFS, "defaults")
		if err != nil {
			return nil, fmt.Errorf("opening embedded registry: %w", err)
		}
		fsys = sub
	} else {
		info, err := os.Stat(cfg.ConfigDir)
		if err != nil {
			return nil, fmt.Errorf("registry directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("registry directory %s is not a directory", cfg.ConfigDir)
		}
		fsys = os.DirFS(cfg.ConfigDir)
	}
	return LoadFS(fsys, cfg.Strict, logger)
}

// LoadFS builds a registry from the documents in fsys.
func LoadFS(fsys fs.FS, strict bool, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	l := &loader{fsys: fsys, logger: logger, validate: validator.New()}

	r := &Registry{
		canonicalizer: labs.NewCanonicalizer(l.labs()),
		normalizer:    units.NewNormalizer(l.conversions(), l.units()),
		aliases:       l.aliases(),
		derivations:   l.derivations(),
		imputation:    l.imputation(),
		features:      l.features(),
		scoring:       l.scoring(),
	}
	r.issues = l.issues

	if strict && len(r.issues) > 0 {
		errs := make([]error, len(r.issues))
		for i, issue := range r.issues {
			errs[i] = issue
		}
		return nil, fmt.Errorf("registry has %d invalid documents: %w", len(r.issues), errors.Join(errs...))
	}

	logger.WithFields(logrus.Fields{
		"labs":          len(r.canonicalizer.Canonicals()),
		"aliases":       len(r.aliases),
		"scoring_tasks": len(r.scoring),
		"feature_tasks": len(r.features),
		"issues":        len(r.issues),
	}).Info("Registry loaded")
	return r, nil
}

// Default returns the registry built from the embedded defaults.
func Default() *Registry {
	r, err := Load(domain.RegistryConfig{}, nil)
	if err != nil {
		panic(fmt.Sprintf("embedded registry is invalid: %v", err))
	}
	return r
}

func (l *loader) issue(doc string, err error) {
	l.issues = append(l.issues, LoadIssue{Document: doc, Err: err, Message: err.Error()})
	l.logger.WithFields(logrus.Fields{
		"document": doc,
		"error":    err.Error(),
	}).Warn("Registry document rejected, using empty table")
}

// read returns the validated bytes of a document, or nil after recording an issue.
// Optional documents that do not exist are skipped silently.
func (l *loader) read(doc, schema string, optional bool) []byte {
	data, err := fs.ReadFile(l.fsys, doc)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		l.issue(doc, err)
		return nil
	}
	if err := validateDocument(schema, data); err != nil {
		l.issue(doc, err)
		return nil
	}
	return data
}

func (l *loader) labs() []labs.Entry {
	data := l.read(DocLabs, "labs_map", false)
	if data == nil {
		return nil
	}
	members, err := decodeObject(data)
	if err != nil {
		l.issue(DocLabs, err)
		return nil
	}
	entries := make([]labs.Entry, 0, len(members))
	for _, m := range members {
		var syns []string
		if err := json.Unmarshal(m.Value, &syns); err != nil {
			l.issue(DocLabs, fmt.Errorf("%s: %w", m.Key, err))
			continue
		}
		entries = append(entries, labs.Entry{Canonical: strings.ToLower(m.Key), Synonyms: syns})
	}
	return entries
}

func (l *loader) units() map[string]string {
	out := make(map[string]string)
	data := l.read(DocUnits, "units", false)
	if data == nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		l.issue(DocUnits, err)
		return map[string]string{}
	}
	return out
}

func (l *loader) conversions() []units.Conversion {
	data := l.read(DocConversions, "conversions", false)
	if data == nil {
		return nil
	}
	var out []units.Conversion
	if err := json.Unmarshal(data, &out); err != nil {
		l.issue(DocConversions, err)
		return nil
	}
	return out
}

func (l *loader) aliases() map[string]string {
	out := make(map[string]string)
	data := l.read(DocAliases, "aliases", false)
	if data == nil {
		return out
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		l.issue(DocAliases, err)
		return out
	}
	for k, v := range raw {
		out[strings.ToLower(k)] = strings.ToLower(v)
	}
	return out
}

// perTask decodes a document keyed by task name, reporting unknown tasks.
func (l *loader) perTask(doc, schema string) map[domain.Task]json.RawMessage {
	data := l.read(doc, schema, false)
	if data == nil {
		return nil
	}
	members, err := decodeObject(data)
	if err != nil {
		l.issue(doc, err)
		return nil
	}
	out := make(map[domain.Task]json.RawMessage, len(members))
	for _, m := range members {
		task, err := domain.ParseTask(m.Key)
		if err != nil {
			l.issue(doc, err)
			continue
		}
		out[task] = m.Value
	}
	return out
}

func (l *loader) derivations() map[domain.Task][]DerivationRule {
	out := make(map[domain.Task][]DerivationRule)
	for task, raw := range l.perTask(DocDerivations, "derivations") {
		var rules []DerivationRule
		if err := json.Unmarshal(raw, &rules); err != nil {
			l.issue(DocDerivations, fmt.Errorf("%s: %w", task, err))
			continue
		}
		valid := make([]DerivationRule, 0, len(rules))
		for _, rule := range rules {
			rule.Feature = strings.ToLower(rule.Feature)
			if err := l.validate.Struct(rule); err != nil {
				l.issue(DocDerivations, fmt.Errorf("%s/%s: %w", task, rule.Feature, err))
				continue
			}
			valid = append(valid, rule)
		}
		out[task] = valid
	}
	return out
}

func (l *loader) imputation() map[domain.Task][]ImputedDefault {
	out := make(map[domain.Task][]ImputedDefault)
	for task, raw := range l.perTask(DocImputation, "imputation") {
		members, err := decodeObject(raw)
		if err != nil {
			l.issue(DocImputation, fmt.Errorf("%s: %w", task, err))
			continue
		}
		defaults := make([]ImputedDefault, 0, len(members))
		for _, m := range members {
			var v domain.Value
			if err := json.Unmarshal(m.Value, &v); err != nil {
				l.issue(DocImputation, fmt.Errorf("%s/%s: %w", task, m.Key, err))
				continue
			}
			defaults = append(defaults, ImputedDefault{Name: m.Key, Value: v})
		}
		out[task] = defaults
	}
	return out
}

func (l *loader) features() map[domain.Task][]FeatureSpec {
	out := make(map[domain.Task][]FeatureSpec)
	for task, raw := range l.perTask(DocFeatures, "features") {
		var specs []FeatureSpec
		if err := json.Unmarshal(raw, &specs); err != nil {
			l.issue(DocFeatures, fmt.Errorf("%s: %w", task, err))
			continue
		}
		valid := make([]FeatureSpec, 0, len(specs))
		for _, spec := range specs {
			if err := l.validate.Struct(spec); err != nil {
				l.issue(DocFeatures, fmt.Errorf("%s/%s: %w", task, spec.Name, err))
				continue
			}
			valid = append(valid, spec)
		}
		out[task] = valid
	}
	return out
}

// rangeSpec mirrors one entry of a scoring document; absent fields take defaults.
type rangeSpec struct {
	IdealMin  *float64 `json:"ideal_min"`
	IdealMax  *float64 `json:"ideal_max"`
	Weight    *float64 `json:"weight"`
	Transform *string  `json:"transform"`
}

func (s rangeSpec) toRange(name string) domain.FeatureRange {
	r := domain.FeatureRange{
		Name:      name,
		IdealMin:  0,
		IdealMax:  100,
		Weight:    1,
		Transform: domain.TransformZ,
	}
	if s.IdealMin != nil {
		r.IdealMin = *s.IdealMin
	}
	if s.IdealMax != nil {
		r.IdealMax = *s.IdealMax
	}
	if s.Weight != nil {
		r.Weight = *s.Weight
	}
	if s.Transform != nil {
		r.Transform = domain.Transform(*s.Transform)
	}
	return r
}

func (l *loader) scoring() map[domain.Task]*domain.ScoringConfig {
	out := make(map[domain.Task]*domain.ScoringConfig)
	for _, task := range domain.AllTasks {
		file, ok := rangeFiles[task]
		if !ok {
			continue
		}
		doc := rangesDir + "/" + file
		data := l.read(doc, "ranges", true)
		if data == nil {
			continue
		}
		cfg, err := l.parseScoring(task, data)
		if err != nil {
			l.issue(doc, err)
			continue
		}
		if len(cfg.Features) > 0 {
			out[task] = cfg
		}
	}
	return out
}

func (l *loader) parseScoring(task domain.Task, data []byte) (*domain.ScoringConfig, error) {
	members, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	cfg := &domain.ScoringConfig{Task: task, Features: make([]domain.FeatureRange, 0, len(members))}
	for _, m := range members {
		var spec rangeSpec
		if err := json.Unmarshal(m.Value, &spec); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Key, err)
		}
		cfg.Features = append(cfg.Features, spec.toRange(m.Key))
	}
	if err := l.validate.Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Canonicalizer returns the lab-name resolver.
func (r *Registry) Canonicalizer() *labs.Canonicalizer {
	return r.canonicalizer
}

// Normalizer returns the unit converter.
func (r *Registry) Normalizer() *units.Normalizer {
	return r.normalizer
}

// Alias returns the canonical key a lower-cased feature name is an alias of.
func (r *Registry) Alias(name string) (string, bool) {
	canon, ok := r.aliases[strings.ToLower(name)]
	return canon, ok
}

// Derivation returns the first rule of the task matching the feature name.
func (r *Registry) Derivation(task domain.Task, name string) (DerivationRule, bool) {
	lower := strings.ToLower(name)
	for _, rule := range r.derivations[task] {
		if rule.Matches(lower) {
			return rule, true
		}
	}
	return DerivationRule{}, false
}

// Default returns the imputation default of a feature: exact name first, then a
// case-insensitive match.
func (r *Registry) Default(task domain.Task, name string) (domain.Value, bool) {
	defaults := r.imputation[task]
	for _, d := range defaults {
		if d.Name == name {
			return d.Value, true
		}
	}
	for _, d := range defaults {
		if strings.EqualFold(d.Name, name) {
			return d.Value, true
		}
	}
	return domain.Absent(), false
}

// Schema returns the ordered feature schema of a task.
func (r *Registry) Schema(task domain.Task) []FeatureSpec {
	specs := r.features[task]
	out := make([]FeatureSpec, len(specs))
	copy(out, specs)
	return out
}

// RequiredFeatures returns the ordered feature names of a task's model.
func (r *Registry) RequiredFeatures(task domain.Task) []string {
	specs := r.features[task]
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

// ScoringConfig returns the scoring configuration of a task.
func (r *Registry) ScoringConfig(task domain.Task) (*domain.ScoringConfig, bool) {
	cfg, ok := r.scoring[task]
	return cfg, ok
}

// Issues returns the problems found while loading.
func (r *Registry) Issues() []LoadIssue {
	out := make([]LoadIssue, len(r.issues))
	copy(out, r.issues)
	return out
}

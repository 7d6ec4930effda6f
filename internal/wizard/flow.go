package wizard

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/etofiasko/tg-bot-v2/internal/access"
	"github.com/etofiasko/tg-bot-v2/internal/backend"
	"gopkg.in/yaml.v3"
)

//go:embed flows.yaml
var defaultFlowsYAML []byte

// Variant names a dialogue flow.
type Variant string

const (
	// VariantClassic is partner, year, category with optional advanced settings.
	VariantClassic Variant = "classic"
	// VariantExtended starts by choosing the report kind.
	VariantExtended Variant = "extended"
)

// StepID identifies a wizard state.
type StepID string

// Wizard states.
const (
	StepKind             StepID = "kind"
	StepGoodsCode        StepID = "goods_code"
	StepPartner          StepID = "partner"
	StepYear             StepID = "year"
	StepCategory         StepID = "category"
	StepSubcategory      StepID = "subcategory"
	StepConfirm          StepID = "confirm"
	StepDigits           StepID = "digits"
	StepMonths           StepID = "months"
	StepExclude          StepID = "exclude"
	StepTableSize        StepID = "table_size"
	StepCountryTableSize StepID = "country_table_size"
	StepTextSize         StepID = "text_size"
	StepAccessData       StepID = "access_data"
	StepDone             StepID = "done"

	stepFinalize StepID = "finalize"
)

// Report kinds of the kind step.
const (
	KindPlane   = "plane"
	KindCountry = "country"
	KindGoods   = "goods"
)

const excludeReexport = "reexport"

// fieldRegion holds the variant's fixed region.
const fieldRegion = "region"

var (
	mainSteps = map[StepID]bool{
		StepKind: true, StepGoodsCode: true, StepPartner: true, StepYear: true,
		StepCategory: true, StepSubcategory: true, StepConfirm: true,
	}
	advancedSteps = map[StepID]bool{
		StepDigits: true, StepMonths: true, StepExclude: true,
		StepTableSize: true, StepCountryTableSize: true, StepTextSize: true,
	}
)

// ErrUnknownVariant is returned for variants with no flow definition.
var ErrUnknownVariant = errors.New("unknown dialogue variant")

// Flow is the data that distinguishes one dialogue variant from another.
type Flow struct {
	Variant         Variant    `yaml:"-"`
	Backend         backend.ID `yaml:"backend"`
	Region          string     `yaml:"region"`
	RegionGenitive  string     `yaml:"region_genitive"`
	Steps           []StepID   `yaml:"steps"`
	Advanced        []StepID   `yaml:"advanced"`
	StrictGoodsCode bool       `yaml:"strict_goods_code"`
	DefaultExclude  string     `yaml:"default_exclude"`
	RoleChange      struct {
		ByHandle         bool `yaml:"by_handle"`
		ProvisionUnknown bool `yaml:"provision_unknown"`
	} `yaml:"role_change"`
}

// RolePolicy returns the access policy for role changes issued in this variant.
func (f *Flow) RolePolicy() access.Policy {
	return access.Policy{ByHandle: f.RoleChange.ByHandle, Provision: f.RoleChange.ProvisionUnknown}
}

// Flows maps each variant to its flow.
type Flows map[Variant]*Flow

// ParseFlows decodes and validates flow definitions.
func ParseFlows(data []byte) (Flows, error) {
	var doc struct {
		Variants map[Variant]*Flow `yaml:"variants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode flows: %w", err)
	}
	if len(doc.Variants) == 0 {
		return nil, fmt.Errorf("decode flows: no variants defined")
	}

	for name, f := range doc.Variants {
		if f == nil {
			return nil, fmt.Errorf("variant %s: empty definition", name)
		}
		f.Variant = name
		if err := f.validate(); err != nil {
			return nil, fmt.Errorf("variant %s: %w", name, err)
		}
	}
	return Flows(doc.Variants), nil
}

// LoadFlows reads flow definitions from path, or the built-in ones when path is empty.
func LoadFlows(path string) (Flows, error) {
	if path == "" {
		return ParseFlows(defaultFlowsYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flows file: %w", err)
	}
	return ParseFlows(data)
}

// DefaultFlows returns the built-in flow definitions.
func DefaultFlows() Flows {
	flows, err := ParseFlows(defaultFlowsYAML)
	if err != nil {
		panic(err)
	}
	return flows
}

func (f *Flow) validate() error {
	if _, err := backend.ParseID(string(f.Backend)); err != nil {
		return err
	}
	if f.Region == "" {
		return fmt.Errorf("region is required")
	}
	if f.RegionGenitive == "" {
		f.RegionGenitive = f.Region
	}
	if len(f.Steps) == 0 || f.Steps[len(f.Steps)-1] != StepConfirm {
		return fmt.Errorf("steps must end with %s", StepConfirm)
	}

	seen := make(map[StepID]bool)
	for _, s := range f.Steps {
		if !mainSteps[s] {
			return fmt.Errorf("unknown step %q", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate step %q", s)
		}
		seen[s] = true
	}
	if seen[StepGoodsCode] && !seen[StepKind] {
		return fmt.Errorf("%s requires %s", StepGoodsCode, StepKind)
	}
	if seen[StepSubcategory] && !seen[StepCategory] {
		return fmt.Errorf("%s requires %s", StepSubcategory, StepCategory)
	}
	for _, s := range f.Advanced {
		if !advancedSteps[s] {
			return fmt.Errorf("unknown advanced step %q", s)
		}
		if seen[s] {
			return fmt.Errorf("duplicate step %q", s)
		}
		seen[s] = true
	}

	switch f.DefaultExclude {
	case "", excludeReexport:
	default:
		return fmt.Errorf("unknown default_exclude %q", f.DefaultExclude)
	}
	return nil
}

// applies reports whether step should run given the answers so far.
func applies(step StepID, fields map[string]string) bool {
	switch step {
	case StepGoodsCode:
		return fields[string(StepKind)] == KindGoods
	case StepCategory:
		return fields[string(StepKind)] != KindPlane && fields[string(StepGoodsCode)] == ""
	case StepSubcategory:
		return applies(StepCategory, fields) && fields[string(StepCategory)] != ""
	default:
		return true
	}
}

// nextStep returns the first applicable step after from, or stepFinalize.
// A from that is not in steps starts at the beginning.
func nextStep(steps []StepID, from StepID, fields map[string]string) StepID {
	start := 0
	for i, s := range steps {
		if s == from {
			start = i + 1
			break
		}
	}
	for _, s := range steps[start:] {
		if applies(s, fields) {
			return s
		}
	}
	return stepFinalize
}

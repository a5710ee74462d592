package validate

import (
	"net/url"
	"strings"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// Actions whose selector is a path, URL or request value rather than an
// element.
var nonElementActions = map[string]bool{
	"location": true,
	"goto":     true,
	"xhr":      true,
}

// validateDomain runs the domain-level rules against registry.
func validateDomain(tf *schema.TestFile, registry *actions.Registry) []*ValidationError {
	var errs []*ValidationError

	// D1: a test file needs a name to be saved and exported
	if strings.TrimSpace(tf.Name) == "" {
		errs = append(errs, warningf("domain", "name", "test file has no name"))
	}

	// D2: step ID uniqueness
	ids := map[string]string{} // id → path
	for i, s := range tf.Steps {
		path := stepPath(i)
		if s.ID == "" {
			errs = append(errs, errorf("domain", path+".id", "step ID is required"))
			continue
		}
		if prev, ok := ids[s.ID]; ok {
			errs = append(errs, errorf("domain", path+".id", "duplicate step ID %q (first at %s)", s.ID, prev))
		} else {
			ids[s.ID] = path
		}
	}

	for i, s := range tf.Steps {
		errs = append(errs, validateStep(s, stepPath(i), registry)...)
	}
	return errs
}

func validateStep(s schema.Step, path string, registry *actions.Registry) []*ValidationError {
	var errs []*ValidationError

	// D3: select type must be one of the known values
	if !s.SelectType.Valid() {
		errs = append(errs, errorf("domain", path+".selectType", "invalid selectType %q: must be selector, content, or none", s.SelectType))
	}

	// D4: action must be registered
	if s.Action == "" {
		return append(errs, errorf("domain", path+".action", "step action is required"))
	}
	d, err := registry.Lookup(s.Action)
	if err != nil {
		return append(errs, errorf("domain", path+".action", "Unrecognized action specified by step: %s", s.Action))
	}
	if d.GenerateCode == nil {
		errs = append(errs, errorf("domain", path+".action", "action %q cannot generate code", s.Action))
	}
	if !d.Runnable() {
		errs = append(errs, warningf("domain", path+".action", "action %q cannot be replayed", s.Action))
	}

	// D5: selector required unless the action hides it
	if !d.HideSelectorInput && strings.TrimSpace(s.Selector) == "" {
		errs = append(errs, errorf("domain", path+".selector", "%s step requires a selector", s.Action))
	}
	if d.HideSelectorInput && s.SelectType == schema.SelectByContent {
		errs = append(errs, warningf("domain", path+".selectType", "%s step ignores its selector", s.Action))
	}

	// D6: content matching only applies to element actions
	if nonElementActions[s.Action] && s.SelectType == schema.SelectByContent {
		errs = append(errs, errorf("domain", path+".selectType", "%s step cannot match by content", s.Action))
	}

	// D7: arguments must be declared and select-typed values must be options
	params := map[string]actions.Param{}
	for _, p := range d.Params {
		params[p.Key] = p
	}
	for key, val := range s.Args {
		p, ok := params[key]
		if !ok {
			errs = append(errs, warningf("domain", path+".args."+key, "argument %q is not used by %s", key, s.Action))
			continue
		}
		if len(p.Options) > 0 && val != "" && !hasOption(p.Options, val) {
			errs = append(errs, errorf("domain", path+".args."+key, "invalid %s %q: must be one of %s", key, val, optionKeys(p.Options)))
		}
	}

	errs = append(errs, validateActionArgs(s, path)...)
	return errs
}

// validateActionArgs holds the per-action checks that do not fit the
// parameter declarations.
func validateActionArgs(s schema.Step, path string) []*ValidationError {
	var errs []*ValidationError
	switch s.Action {
	case "goto":
		if s.Selector != "" {
			if _, err := url.Parse(s.Selector); err != nil {
				errs = append(errs, errorf("domain", path+".selector", "invalid URL %q: %s", s.Selector, err))
			}
		}
	case "location":
		if s.Arg(actions.ArgLocationProperty, "pathname") == "pathname" && s.Selector != "" && !strings.HasPrefix(s.Selector, "/") {
			errs = append(errs, warningf("domain", path+".selector", "pathname %q does not start with '/'", s.Selector))
		}
	case "code":
		if strings.TrimSpace(s.Args[actions.ArgCodeBlock]) == "" {
			errs = append(errs, warningf("domain", path+".args."+actions.ArgCodeBlock, "code step has no code"))
		}
	}
	return errs
}

func hasOption(opts []actions.Option, key string) bool {
	for _, o := range opts {
		if o.Key == key {
			return true
		}
	}
	return false
}

func optionKeys(opts []actions.Option) string {
	keys := make([]string, len(opts))
	for i, o := range opts {
		keys[i] = o.Key
	}
	return strings.Join(keys, ", ")
}

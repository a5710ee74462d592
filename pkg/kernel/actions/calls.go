package actions

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ormasoftchile/stepwise/pkg/kernel/dom"
	"github.com/ormasoftchile/stepwise/pkg/kernel/failure"
)

// Replay applies calls in order against the document in env. Each call
// names a method of the test-runner surface: visit, clearCookies,
// clearLocalStorage, reload, get and contains; get and contains accept
// chained click, clear, type and select calls.
func Replay(ctx context.Context, env *Env, calls []Call) error {
	for _, c := range calls {
		if err := replayOne(ctx, env, c); err != nil {
			return err
		}
	}
	return nil
}

func notAFunction(chain ...string) error {
	var b strings.Builder
	b.WriteString("cy")
	for _, m := range chain {
		b.WriteString("." + m + "()")
	}
	return &failure.Error{
		Kind:    failure.KindActionContractViolation,
		Message: b.String() + " is not a function",
	}
}

func replayOne(ctx context.Context, env *Env, c Call) error {
	var subj *subject
	switch c.Method {
	case "visit":
		href, err := stringArg(c, 0)
		if err != nil {
			return err
		}
		if err := visit(ctx, env, href); err != nil {
			return err
		}
	case "clearCookies":
		if err := clearCookies(ctx, env); err != nil {
			return err
		}
	case "clearLocalStorage":
		if err := clearStorage(ctx, env); err != nil {
			return err
		}
	case "reload":
		if err := env.Doc.Reload(ctx); err != nil {
			return err
		}
	case "get", "contains":
		sel, err := stringArg(c, 0)
		if err != nil {
			return err
		}
		els, err := dom.Find(ctx, env.Doc, c.Method == "contains", sel)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return failure.New(failure.KindElementNotFound,
				"No element found matching %s", dom.Describe(c.Method == "contains", sel))
		}
		subj = &subject{el: els[0], value: els[0].Attrs["value"]}
	default:
		return notAFunction(c.Method)
	}

	chain := []string{c.Method}
	for _, next := range c.Chain {
		chain = append(chain, next.Method)
		if subj == nil {
			return notAFunction(chain...)
		}
		if err := subj.apply(ctx, env, next, chain); err != nil {
			return err
		}
	}
	return nil
}

// subject is the element a get or contains call yielded.
type subject struct {
	el    dom.Element
	value string
}

func (s *subject) apply(ctx context.Context, env *Env, c Call, chain []string) error {
	switch c.Method {
	case "click":
		return env.Doc.Click(ctx, s.el)
	case "clear":
		s.value = ""
		return env.Doc.SetValue(ctx, s.el, "")
	case "type":
		text, err := stringArg(c, 0)
		if err != nil {
			return err
		}
		s.value += text
		return env.Doc.SetValue(ctx, s.el, s.value)
	case "select":
		v, err := stringArg(c, 0)
		if err != nil {
			return err
		}
		s.value = v
		return env.Doc.SetValue(ctx, s.el, v)
	default:
		return notAFunction(chain...)
	}
}

func stringArg(c Call, i int) (string, error) {
	if i >= len(c.Args) {
		return "", &failure.Error{
			Kind:    failure.KindActionContractViolation,
			Message: fmt.Sprintf("cy.%s() needs argument %d", c.Method, i+1),
		}
	}
	return fmt.Sprint(c.Args[i]), nil
}

// visit navigates to an absolute URL on the configured origin.
func visit(ctx context.Context, env *Env, href string) error {
	u, err := url.Parse(href)
	if err != nil {
		return fmt.Errorf("cy.visit(): %w", err)
	}
	if u.IsAbs() {
		if host := env.Config.originHost(); host != "" && u.Host != host {
			return &failure.Error{
				Kind:    failure.KindActionContractViolation,
				Message: fmt.Sprintf("cy.visit() tried to access different domain (%s)", u.Host),
			}
		}
	}
	return env.Doc.Navigate(ctx, href)
}

func clearCookies(ctx context.Context, env *Env) error {
	cookies, err := env.Doc.Cookies(ctx)
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	for name := range cookies {
		if err := env.Doc.RemoveCookie(ctx, name); err != nil {
			return fmt.Errorf("remove cookie %s: %w", name, err)
		}
	}
	return nil
}

// clearStorage removes every storage key outside the reserved prefix.
func clearStorage(ctx context.Context, env *Env) error {
	items, err := env.Doc.Storage(ctx)
	if err != nil {
		return fmt.Errorf("read storage: %w", err)
	}
	prefix := env.Config.ReservedStoragePrefix
	for key := range items {
		if prefix != "" && strings.HasPrefix(key, prefix) {
			continue
		}
		if err := env.Doc.RemoveStorage(ctx, key); err != nil {
			return fmt.Errorf("remove storage %s: %w", key, err)
		}
	}
	return nil
}

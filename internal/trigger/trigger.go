// Package trigger models the events that start a pipeline run and the gate
// deciding whether a run is allowed to publish.
package trigger

import (
	"fmt"
	"path"
	"strings"
)

// Event is the kind of invocation that started a run.
type Event string

const (
	// EventPush is a git push, carrying the pushed ref.
	EventPush Event = "push"
	// EventManual is a parameterless manual dispatch. Manual runs build but
	// never publish.
	EventManual Event = "manual"
)

const tagRefPrefix = "refs/tags/"

// Trigger is the originating event of one pipeline run.
type Trigger struct {
	Event Event
	// Ref is the full git ref for push events, e.g. "refs/tags/v1.0.0" or
	// "refs/heads/main". Empty for manual dispatch.
	Ref string
}

func (t Trigger) Validate() error {
	switch t.Event {
	case EventPush:
		if t.Ref == "" {
			return fmt.Errorf("push trigger requires a ref")
		}
		return nil
	case EventManual:
		return nil
	default:
		return fmt.Errorf("unknown trigger event %q", t.Event)
	}
}

// Tag returns the tag name and true when the trigger is a tag-ref push.
func (t Trigger) Tag() (string, bool) {
	if t.Event != EventPush {
		return "", false
	}
	tag, ok := strings.CutPrefix(t.Ref, tagRefPrefix)
	if !ok || tag == "" {
		return "", false
	}
	return tag, true
}

// Gate is the predicate controlling release side effects. A false gate is a
// normal skip, never an error.
type Gate struct {
	// TagPattern is a path.Match glob applied to the tag name, e.g. "v*".
	TagPattern string
}

// Allows reports whether the trigger permits publishing, and the tag the
// release attaches to when it does.
func (g Gate) Allows(t Trigger) (tag string, ok bool, err error) {
	tag, ok = t.Tag()
	if !ok {
		return "", false, nil
	}
	if g.TagPattern == "" {
		return tag, true, nil
	}
	matched, err := path.Match(g.TagPattern, tag)
	if err != nil {
		return "", false, fmt.Errorf("invalid tag pattern %q: %w", g.TagPattern, err)
	}
	if !matched {
		return "", false, nil
	}
	return tag, true, nil
}

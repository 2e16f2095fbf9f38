package subscriptions

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	events "github.com/hanpama/graphsub/internal/events"
	language "github.com/hanpama/graphsub/internal/language"
)

// Subscriber persists sub under channel and records the channel for
// sub.FieldName in the current execution. A store failure is returned as is
// and leaves the execution's channels untouched.
func (r *Registry) Subscriber(ctx context.Context, sub *Subscriber, channel string) error {
	if r.store == nil {
		return ErrNoStore
	}
	if err := r.store.StoreSubscriber(ctx, sub, channel); err != nil {
		return err
	}
	r.channels.set(sub.FieldName, channel)
	r.logger.Debug("subscriber recorded",
		zap.String("field", sub.FieldName),
		zap.String("channel", channel),
		zap.String("topic", sub.Topic))
	return nil
}

// Subscriptions resolves the fields selected by every subscription operation
// of sub.Query, in document order. Fragment spreads and inline fragments on
// the subscription root are expanded in place. Fields the registry does not
// know yield NotFound.
func (r *Registry) Subscriptions(sub *Subscriber) ([]Resolution, error) {
	if sub == nil || sub.Query == nil {
		return nil, nil
	}
	var out []Resolution
	for _, op := range sub.Query.Operations {
		if op.Operation != language.Subscription {
			continue
		}
		fields, err := r.rootFields(sub.Query, op.SelectionSet, nil)
		if err != nil {
			return nil, err
		}
		for _, field := range fields {
			if !r.Has(field.Name) {
				out = append(out, NotFound{Field: field})
				continue
			}
			h, err := r.Subscription(field.Name)
			if err != nil {
				return nil, err
			}
			out = append(out, Found{Field: field, Handler: h})
		}
	}
	return out, nil
}

// rootFields flattens set into the fields it selects on the subscription
// root. seen holds the fragments being expanded on the current path.
func (r *Registry) rootFields(doc *language.QueryDocument, set language.SelectionSet, seen []string) ([]*language.Field, error) {
	var out []*language.Field
	for _, sel := range set {
		var (
			inner language.SelectionSet
			cond  string
			next  = seen
		)
		switch sel := sel.(type) {
		case *language.Field:
			out = append(out, sel)
			continue
		case *language.InlineFragment:
			inner, cond = sel.SelectionSet, sel.TypeCondition
		case *language.FragmentSpread:
			if slices.Contains(seen, sel.Name) {
				return nil, &SelectionError{Message: fmt.Sprintf("fragment %q spreads itself", sel.Name)}
			}
			def := doc.Fragments.ForName(sel.Name)
			if def == nil {
				return nil, &SelectionError{Message: fmt.Sprintf("unknown fragment %q", sel.Name)}
			}
			inner, cond, next = def.SelectionSet, def.TypeCondition, append(slices.Clone(seen), sel.Name)
		default:
			continue
		}
		if root := r.rootTypeName(); cond != "" && root != "" && cond != root {
			return nil, &SelectionError{Message: fmt.Sprintf("fragment on %q cannot be spread on subscription root %q", cond, root)}
		}
		fields, err := r.rootFields(doc, inner, next)
		if err != nil {
			return nil, err
		}
		out = append(out, fields...)
	}
	return out, nil
}

func (r *Registry) rootTypeName() string {
	if t, ok := r.oracle.(RootTyper); ok {
		return t.SubscriptionTypeName()
	}
	return ""
}

// ForField derives the subscriber of field from the request-level subscriber
// sub. Arguments are coerced by the oracle when it implements
// ArgumentCoercer and evaluated as written otherwise.
func (r *Registry) ForField(sub *Subscriber, field *language.Field, vars map[string]any) (*Subscriber, error) {
	c, ok := r.oracle.(ArgumentCoercer)
	if !ok {
		return sub.ForField(field, vars)
	}
	args, err := c.CoerceArguments(field, vars)
	if err != nil {
		return nil, err
	}
	return sub.withField(field.Name, args), nil
}

// HandleStartExecution forgets the channels recorded by the previous
// execution. It must run before the first Subscriber call of an execution.
func (r *Registry) HandleStartExecution(context.Context, events.ExecutionStart) {
	r.channels.reset()
}

// Channels returns a snapshot of the channels recorded in the current
// execution.
func (r *Registry) Channels() *ChannelMap { return r.channels.clone() }

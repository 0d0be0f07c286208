package syncache

import (
	"fmt"

	"github.com/unkn0wn-root/syncache/internal/util"
)

// endpoint carries the behavior shared by both cache sides: the resolved
// descriptor, event emission, wrapping and error reporting.
type endpoint struct {
	desc   Descriptor
	side   Side
	log    Logger
	sink   ErrorSink
	events *emitter
}

func newEndpointBase(desc Descriptor, side Side, log Logger, sink ErrorSink) endpoint {
	return endpoint{
		desc:   desc,
		side:   side,
		log:    log,
		sink:   sink,
		events: newEmitter(desc.Name),
	}
}

func (e *endpoint) Name() string { return e.desc.Name }
func (e *endpoint) Side() Side   { return e.side }

func (e *endpoint) On(event string, h EventHandler) error {
	return e.events.on(event, h)
}

// wrapObject constructs the configured instance shape, or passes the raw
// record through when none is configured. Fires the wrapped event.
func (e *endpoint) wrapObject(raw Object) Object {
	obj := raw
	if e.desc.Wrap != nil {
		obj = e.desc.Wrap(raw)
	}
	e.events.emit(Event{Name: EventWrapped, Object: obj})
	return obj
}

// reportError is the default onError behavior: log, forward to the shared
// sink and fire the error event. It never panics or throws.
func (e *endpoint) reportError(err error) {
	e.log.Error("cache endpoint error", Fields{"cache": e.desc.Name, "side": e.side.String(), "err": err})
	if e.sink != nil {
		e.sink.HandleError(err)
	}
	e.events.emit(Event{Name: EventError, Err: err})
}

// IDOf resolves an object's identifier through the configured accessor.
func (e *endpoint) IDOf(obj Object) (int64, bool) {
	return e.desc.IDGetter(obj)
}

func (e *endpoint) idOf(obj Object) (int64, bool) {
	return e.IDOf(obj)
}

// resolveDescriptor validates a descriptor and fills derived fields. Missing
// identifier accessors are a configuration error and fail immediately.
func resolveDescriptor(desc Descriptor) (Descriptor, error) {
	if desc.Name == "" {
		return desc, fmt.Errorf("syncache: descriptor requires a name")
	}
	if desc.IDGetter == nil || desc.IDSetter == nil {
		if desc.IDProperty == "" {
			return desc, fmt.Errorf("syncache %q: descriptor resolves no identifier accessor pair", desc.Name)
		}
		getter, setter := propertyAccessors(desc.IDProperty)
		if desc.IDGetter == nil {
			desc.IDGetter = getter
		}
		if desc.IDSetter == nil {
			desc.IDSetter = setter
		}
	}
	desc.Table = coalesce(desc.Table, desc.Name)
	desc.WriteRole = coalesce(desc.WriteRole, RoleUser)
	return desc, nil
}

// propertyAccessors builds the identifier accessor pair as plain closures
// over the property name; no dynamic code construction is involved.
func propertyAccessors(prop string) (func(Object) (int64, bool), func(Object, int64)) {
	getter := func(obj Object) (int64, bool) {
		if obj == nil {
			return 0, false
		}
		return util.AsID(obj[prop])
	}
	setter := func(obj Object, id int64) {
		obj[prop] = id
	}
	return getter, setter
}

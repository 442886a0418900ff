package flowvm

import (
	"context"
)

// Modes of the inject_event continuation
const (
	injectEvent = "event"
	injectForm  = "form"
)

// executeSuspend parks the thread on a named event. The payload of the
// resume event is merged into the nearest root scope.
func executeSuspend(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	name, err := e.evalValue(ctx, t, cmd.Name)
	if err != nil {
		return Fail(err)
	}
	event := stringify(name)
	if event == "" {
		return Fail(NewDefinitionError("suspend requires an event name"))
	}
	f.push(&Command{Kind: kindInjectEvent, Mode: injectEvent, Name: event, Loc: cmd.Loc})
	return SuspendWith(&SuspendRequest{Event: event, Kind: SuspendEvent, Name: event})
}

// executeForm parks the thread until the form is submitted. The submitted
// values, over the field defaults, are stored under the form name.
func executeForm(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	f.push(&Command{Kind: kindInjectEvent, Mode: injectForm, Name: cmd.Name, Form: cmd.Form, Loc: cmd.Loc})
	return SuspendWith(&SuspendRequest{Event: cmd.Name, Kind: SuspendForm, Name: cmd.Name, Form: cmd.Form})
}

func executeInjectEvent(ctx context.Context, e *Execution, t *Thread, f *Frame, cmd *Command) Result {
	event, _ := f.Locals[eventKey].(map[string]any)
	delete(f.Locals, eventKey)
	payload, _ := event["payload"].(map[string]any)

	switch cmd.Mode {
	case injectForm:
		values := map[string]any{}
		if cmd.Form != nil {
			for _, field := range cmd.Form.Fields {
				values[field.Name] = field.Default
			}
		}
		if err := e.state.setVariable(t, cmd.Name, deepMerge(values, payload)); err != nil {
			return Fail(err)
		}
	default:
		for _, name := range sortedKeys(payload) {
			if err := e.state.setVariable(t, name, payload[name]); err != nil {
				return Fail(err)
			}
		}
	}
	return Continue()
}

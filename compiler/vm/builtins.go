package vm

import (
	"strconv"

	"tlog.app/go/errors"
)

// Builtins returns host functions available to programs declaring them as externs.
func Builtins() map[string]Extern {
	return map[string]Extern{
		"print": func(m *Machine, args []Value) (Value, error) {
			o, err := m.Heap.Object(args[0].Ptr)
			if err != nil {
				return Value{}, err
			}

			if m.Out == nil {
				return Unit(), nil
			}

			_, err = m.Out.Write(append([]byte(o.Str), '\n'))
			if err != nil {
				return Value{}, errors.Wrap(err, "write")
			}

			return Unit(), nil
		},
		"print_int": func(m *Machine, args []Value) (Value, error) {
			if m.Out == nil {
				return Unit(), nil
			}

			_, err := m.Out.Write(strconv.AppendInt(nil, args[0].Int, 10))
			if err == nil {
				_, err = m.Out.Write([]byte{'\n'})
			}
			if err != nil {
				return Value{}, errors.Wrap(err, "write")
			}

			return Unit(), nil
		},
		"int_to_str": func(m *Machine, args []Value) (Value, error) {
			return m.Str(strconv.FormatInt(args[0].Int, 10)), nil
		},
		// drop takes ownership and discards the value
		"drop": func(m *Machine, args []Value) (Value, error) {
			return Unit(), nil
		},
		// keep returns a new reference to its borrowed argument
		"keep": func(m *Machine, args []Value) (Value, error) {
			return args[0], m.Retain(args[0])
		},
	}
}

package job

import (
	"fmt"
	"strings"
)

// Argument names as passed on the command line.
const (
	ArgJobName        = "JOB_NAME"
	ArgInputPath      = "input_path"
	ArgOutputPath     = "output_path"
	ArgQuarantinePath = "quarantine_path"
)

// RequiredArgs are the arguments every run must be started with.
var RequiredArgs = []string{ArgJobName, ArgInputPath, ArgOutputPath}

// ResolveOptions extracts the named options from a "--NAME value" or
// "--NAME=value" argument list. Arguments not listed in names are ignored.
// Every name in required must be present with a non-empty value.
func ResolveOptions(argv []string, names, required []string) (map[string]string, error) {
	want := make(map[string]bool, len(names)+len(required))
	for _, n := range names {
		want[n] = true
	}
	for _, n := range required {
		want[n] = true
	}

	opts := make(map[string]string)
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !want[name] {
			continue
		}
		if !hasValue {
			if i+1 >= len(argv) || strings.HasPrefix(argv[i+1], "--") {
				return nil, fmt.Errorf("argument --%s expects a value", name)
			}
			i++
			value = argv[i]
		}
		opts[name] = value
	}

	var missing []string
	for _, n := range required {
		if strings.TrimSpace(opts[n]) == "" {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return opts, fmt.Errorf("%w: %s", ErrMissingArgument, strings.Join(missing, ", "))
	}
	return opts, nil
}

// ParseArgs resolves the job arguments from argv and validates them.
func ParseArgs(argv []string) (Args, error) {
	opts, err := ResolveOptions(argv, []string{ArgQuarantinePath}, RequiredArgs)
	if err != nil {
		return Args{}, err
	}
	args := Args{
		JobName:        opts[ArgJobName],
		InputPath:      opts[ArgInputPath],
		OutputPath:     opts[ArgOutputPath],
		QuarantinePath: opts[ArgQuarantinePath],
	}
	return args, args.Validate()
}

// Package flagx lets several flag sets share one command line: each set
// picks out its own flags and ignores the rest.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs keeps only the flags named in allowedFlags, with their values.
// Both "-f value" and "-f=value" are recognized; a following argument that
// starts with "-" is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// StripArgs is the complement of FilterArgs: it drops the named flags and
// their values and keeps everything else in order.
func StripArgs(args []string, flags []string) []string {
	kept := make(map[int]struct{}, len(args))
	for i := range args {
		kept[i] = struct{}{}
	}

	drop := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		drop[f] = struct{}{}
	}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, _, hasValue := strings.Cut(arg, "=")
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		if _, ok := drop[name]; !ok {
			continue
		}
		delete(kept, i)
		if !hasValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			delete(kept, i+1)
			i++
		}
	}

	out := make([]string, 0, len(kept))
	for i, a := range args {
		if _, ok := kept[i]; ok {
			out = append(out, a)
		}
	}
	return out
}

// ConfigPath returns the JSON config file named by -c or -config in
// os.Args, or "" when neither is given.
func ConfigPath() string {
	var path string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(args)

	return path
}

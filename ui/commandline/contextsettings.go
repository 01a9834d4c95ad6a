package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/scalargrad/pkg/ml/context"
	"github.com/gomlx/scalargrad/pkg/support/fsutil"
	"github.com/gomlx/scalargrad/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ParseContextSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters "param1", "param2", etc. must be already set with default values
// in the context `ctx`. The default values are also used to set the type to which the
// string values will be parsed to.
//
// It updates `ctx` parameters accordingly and returns an error in case a parameter
// is unknown or the parsing failed.
//
// Note, one can also provide a scope for the parameters: "/layer_1/activation=tanh"
// will work, as long as a default "activation" is defined in `ctx`.
//
// For integer types, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// A setting "file:<path>" reads the settings from a TOML file, where each key is a parameter name and
// tables are used as scopes. E.g.:
//
//	learning_rate = 0.05
//	fnn_num_hidden_layers = 2
//
//	[layer_2]
//	activation = "tanh"
//
// Example usage:
//
//	func main() {
//		ctx := createDefaultContext()
//		settings := commandline.CreateContextSettingsFlag(ctx, "")
//		flag.Parse()
//		paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
//		if err != nil { panic(err) }
//		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
//		...
//	}
func ParseContextSettings(ctx *context.Context, settings string) (paramsSet []string, err error) {
	settingsList := strings.Split(settings, ";")
	for _, setting := range settingsList {
		paramsSet, err = parseContextSetting(ctx, strings.TrimSpace(setting), paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseContextSetting(ctx *context.Context, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		return parseSettingsFile(ctx, strings.TrimPrefix(setting, "file:"), paramsSet)
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\", got %q",
			setting, setting)
		return
	}
	return setContextParam(ctx, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), paramsSet)
}

// parseSettingsFile reads the settings from a TOML file.
func parseSettingsFile(ctx *context.Context, filePath string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	filePath, err = fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return
	}
	var contents map[string]any
	if _, err = toml.DecodeFile(filePath, &contents); err != nil {
		err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
		return
	}
	settings := make(map[string]string)
	flattenTOML(context.RootScope, contents, settings)
	for _, paramPath := range slices.Sorted(maps.Keys(settings)) {
		newParamsSet, err = setContextParam(ctx, paramPath, settings[paramPath], newParamsSet)
		if err != nil {
			err = errors.WithMessagef(err, "in settings file %q", filePath)
			return
		}
	}
	return
}

// flattenTOML converts the decoded TOML tables to parameters paths and their values as strings.
// Parameters in the root scope are kept without a scope.
func flattenTOML(scope string, contents map[string]any, settings map[string]string) {
	for key, value := range contents {
		switch v := value.(type) {
		case map[string]any:
			flattenTOML(context.JoinScope(scope, key), v, settings)
		case []any:
			settings[tomlParamPath(scope, key)] = strings.Join(
				xslices.Map(v, func(e any) string { return fmt.Sprint(e) }), ",")
		default:
			settings[tomlParamPath(scope, key)] = fmt.Sprint(v)
		}
	}
}

func tomlParamPath(scope, key string) string {
	if scope == context.RootScope {
		return key
	}
	return context.JoinScope(scope, key)
}

// setContextParam parses valueStr to the type of the default value of the parameter, and sets it in the
// scope given in paramPath.
func setContextParam(ctx *context.Context, paramPath, valueStr string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	paramScope, paramName := context.SplitScope(paramPath)
	if strings.Contains(paramName, context.ScopeSeparator) {
		err = errors.Errorf("can't set parameter %q because some scope is set, but it is not absolute (it does not start with %q)",
			paramPath, context.ScopeSeparator)
		return
	}
	value, found := ctx.InAbsPath(context.RootScope).GetParam(paramName)
	if !found {
		err = errors.Errorf("can't set parameter %q (scope=%q) because the param %q is not known in the root context",
			paramPath, paramScope, paramName)
		return
	}

	// Set the new parameter in the selected scope.
	ctxInScope := ctx.InAbsPath(context.RootScope)
	if paramScope != "" {
		ctxInScope = ctxInScope.InAbsPath(paramScope)
	}

	// Parse value accordingly.
	switch v := value.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case int64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = strings.Split(valueStr, ",")
	case []int:
		value, err = xslices.MapErr(strings.Split(valueStr, ","), func(str string) (asInt int, err error) {
			err = json.Unmarshal([]byte(strings.ReplaceAll(strings.TrimSpace(str), "_", "")), &asInt)
			return
		})
	case []float64:
		value, err = xslices.MapErr(strings.Split(valueStr, ","), func(str string) (asNum float64, err error) {
			err = json.Unmarshal([]byte(strings.TrimSpace(str)), &asNum)
			return
		})
	default:
		err = errors.Errorf("don't know how to parse type %T for setting parameter %q", value, paramPath)
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)", valueStr, paramPath, value)
		return
	}
	ctxInScope.SetParam(paramName, value)
	newParamsSet = append(newParamsSet, paramPath)
	return
}

// CreateContextSettingsFlag create a string flag with the given flagName (if empty it will be named
// "set") and with a description of the current defined parameters in the context `ctx`.
//
// The flag should be created before the call to `flags.Parse()`.
func CreateContextSettingsFlag(ctx *context.Context, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	var parts []string
	parts = append(parts, fmt.Sprintf(
		`Set context parameters defining the model. `+
			`It should be a list of elements "param=value" separated by ";". `+
			`Scoped settings are allowed, by using %q to separated scopes. `+
			`It can also be given an entry like: "file:settings.toml", in `+
			`which case the TOML file will be read and its keys parsed as settings, with tables used as scopes. `+
			`Current available parameters that can be set:`,
		context.ScopeSeparator))
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			return
		}
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
	})
	usage := strings.Join(parts, "\n")
	var settings string
	flag.StringVar(&settings, flagName, "", usage)
	return &settings
}

// SprintContextSettings pretty-print values for the current hyperparameters settings into a table.
func SprintContextSettings(ctx *context.Context) string {
	table := newSettingsTable()
	ctx.EnumerateParams(func(scope, key string, value any) {
		table.Row(context.JoinScope(scope, key), fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
	})
	return table.String()
}

// SprintModifiedContextSettings pretty-print the values of the parameters in paramsSet, as returned by
// ParseContextSettings.
func SprintModifiedContextSettings(ctx *context.Context, paramsSet []string) string {
	table := newSettingsTable()
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	for _, paramPath := range slices.Compact(paramsSet) {
		paramScope, paramName := context.SplitScope(paramPath)
		if paramScope == "" {
			paramScope = context.RootScope
		}
		value, found := ctx.InAbsPath(paramScope).GetParam(paramName)
		if !found {
			continue
		}
		table.Row(paramPath, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
	}
	return table.String()
}

func newSettingsTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers("Parameter", "Type", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 2 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

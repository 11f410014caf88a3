package macro

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

func init() {
	Register("datetime", argFunc1Default("2006-01-02 15:04:05", nowFormatted))
	Register("timestamp", func([]string) string {
		return strconv.FormatInt(time.Now().Unix(), 10)
	})

	Register("randomint", randomInt)
	Register("roll", rollDice)
	Register("random", sample)

	Register("str", argFunc1(func(s string) string { return s }))
	Register("upper", argFunc1(strings.ToUpper))
	Register("lower", argFunc1(strings.ToLower))
	Register("strip", stripMacro)
	Register("substr", substrMacro)
	Register("repeat", repeatMacro)
	Register("replace", replaceMacro)
	Register("reverse", argFunc1(reverseString))
	Register("rotate", rotateMacro)
	Register("comment", func([]string) string { return "" })
	Register("//", func([]string) string { return "" })
	Register("///", func([]string) string { return "" })

	Register("setvar", setVar)
	Register("getvar", getVar)
	Register("delvar", delVar)
	Register("appendvar", appendVar)
	Register("prependvar", prependVar)
	Register("incvar", incVar)
	Register("decvar", decVar)
}

func arg(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}

func argFunc1(fn func(string) string) Func {
	return func(args []string) string {
		if len(args) == 0 {
			return ""
		}
		return fn(args[0])
	}
}

func argFunc1Default(fallback string, fn func(string) string) Func {
	return func(args []string) string {
		return fn(arg(args, 0, fallback))
	}
}

func nowFormatted(layout string) string {
	return time.Now().Format(pythonToGoLayout(layout))
}

// pythonToGoLayout translates the handful of strftime directives the
// builtin macros actually use into Go's reference-time layout.
func pythonToGoLayout(layout string) string {
	replacer := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
	)
	return replacer.Replace(layout)
}

func randomInt(args []string) string {
	min := 0
	max := 0x7FFFFFFF
	if v, err := strconv.Atoi(arg(args, 0, "")); err == nil {
		min = v
	}
	if v, err := strconv.Atoi(arg(args, 1, "")); err == nil {
		max = v
	}
	if min > max {
		min, max = max, min
	}
	return strconv.Itoa(min + rand.Intn(max-min+1))
}

// rollDice implements dice notation "XdY", "XdY+Z", "XdY-Z".
func rollDice(args []string) string {
	if len(args) == 0 {
		return "0"
	}
	dice := args[0]
	modifier := 0
	switch {
	case strings.Contains(dice, "+"):
		parts := strings.SplitN(dice, "+", 2)
		dice = parts[0]
		modifier, _ = strconv.Atoi(parts[1])
	case strings.Contains(dice, "-"):
		parts := strings.SplitN(dice, "-", 2)
		dice = parts[0]
		m, _ := strconv.Atoi(parts[1])
		modifier = -m
	}

	parts := strings.SplitN(dice, "d", 2)
	numDice := 1
	diceSize := 6
	if len(parts) == 2 {
		if parts[0] != "" {
			numDice, _ = strconv.Atoi(parts[0])
		}
		if parts[1] != "" {
			diceSize, _ = strconv.Atoi(parts[1])
		}
	}

	total := 0
	for i := 0; i < numDice; i++ {
		total += 1 + rand.Intn(diceSize)
	}
	return strconv.Itoa(total + modifier)
}

func sample(args []string) string {
	items := strings.Split(arg(args, 0, ""), ",")
	n := 1
	if v, err := strconv.Atoi(arg(args, 1, "")); err == nil {
		n = v
	}
	sep := arg(args, 2, "")

	if n > len(items) {
		n = len(items)
	}
	if n < 0 {
		n = 0
	}

	picked := rand.Perm(len(items))[:n]
	out := make([]string, n)
	for i, idx := range picked {
		out[i] = items[idx]
	}
	return strings.Join(out, sep)
}

func stripMacro(args []string) string {
	s := arg(args, 0, "")
	chars := arg(args, 1, " \r\n\t")
	return strings.Trim(s, chars)
}

func substrMacro(args []string) string {
	s := arg(args, 0, "")
	start := 0
	end := len(s)
	if v, err := strconv.Atoi(arg(args, 1, "")); err == nil {
		start = v
	}
	if len(args) > 2 {
		if v, err := strconv.Atoi(args[2]); err == nil {
			end = v
		}
	}
	return pythonSlice(s, start, end)
}

// pythonSlice applies Python's negative-index slicing semantics to a
// byte string, clamped to valid bounds.
func pythonSlice(s string, start, end int) string {
	n := len(s)
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end || start >= n {
		return ""
	}
	return s[start:end]
}

func repeatMacro(args []string) string {
	s := arg(args, 0, "")
	n := 1
	if v, err := strconv.Atoi(arg(args, 1, "")); err == nil {
		n = v
	}
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}

func replaceMacro(args []string) string {
	s := arg(args, 0, "")
	old := arg(args, 1, "")
	newStr := arg(args, 2, "")
	count := -1
	if v, err := strconv.Atoi(arg(args, 3, "")); err == nil {
		count = v
	}
	if count < 0 {
		return strings.ReplaceAll(s, old, newStr)
	}
	return strings.Replace(s, old, newStr, count)
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func rotateMacro(args []string) string {
	s := arg(args, 0, "")
	n := 1
	if v, err := strconv.Atoi(arg(args, 1, "")); err == nil {
		n = v
	}
	if len(s) == 0 {
		return s
	}
	n = ((n % len(s)) + len(s)) % len(s)
	return s[n:] + s[:n]
}

var (
	varsMu sync.Mutex
	vars   = map[string]string{}
)

func setVar(args []string) string {
	name := arg(args, 0, "")
	value := arg(args, 1, "")
	varsMu.Lock()
	vars[name] = value
	varsMu.Unlock()
	return ""
}

func getVar(args []string) string {
	name := arg(args, 0, "")
	varsMu.Lock()
	defer varsMu.Unlock()
	return vars[name]
}

func delVar(args []string) string {
	name := arg(args, 0, "")
	varsMu.Lock()
	delete(vars, name)
	varsMu.Unlock()
	return ""
}

func appendVar(args []string) string {
	name := arg(args, 0, "")
	value := arg(args, 1, "")
	newline := 2
	if v, err := strconv.Atoi(arg(args, 2, "")); err == nil {
		newline = v
	}

	varsMu.Lock()
	defer varsMu.Unlock()
	if newline > 0 && vars[name] != "" {
		vars[name] += strings.Repeat("\n", newline)
	}
	vars[name] += value
	return ""
}

func prependVar(args []string) string {
	name := arg(args, 0, "")
	value := arg(args, 1, "")
	newline := 2
	if v, err := strconv.Atoi(arg(args, 2, "")); err == nil {
		newline = v
	}

	varsMu.Lock()
	defer varsMu.Unlock()
	if newline > 0 {
		vars[name] = value + strings.Repeat("\n", newline) + vars[name]
	} else {
		vars[name] = value + vars[name]
	}
	return ""
}

func incVar(args []string) string {
	return stepVar(args, 1)
}

func decVar(args []string) string {
	return stepVar(args, -1)
}

func stepVar(args []string, sign int) string {
	name := arg(args, 0, "")
	delta := 1
	if v, err := strconv.Atoi(arg(args, 1, "")); err == nil {
		delta = v
	}

	varsMu.Lock()
	defer varsMu.Unlock()
	current, err := strconv.Atoi(vars[name])
	if err != nil {
		return ""
	}
	vars[name] = strconv.Itoa(current + sign*delta)
	return ""
}

package lp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
)

// WriteLP writes m in CPLEX LP text format.
func WriteLP(w io.Writer, m *Model) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "\\Problem name: %s\n\n", m.Name)
	if m.maximize {
		bw.WriteString("Maximize\n")
	} else {
		bw.WriteString("Minimize\n")
	}
	bw.WriteString(" obj:")
	writeTerms(bw, m, m.objective)
	bw.WriteString("\nSubject To\n")
	for i, c := range m.constraints {
		name := c.Name
		if name == "" {
			name = "c" + strconv.Itoa(i+1)
		}
		fmt.Fprintf(bw, " %s:", name)
		writeTerms(bw, m, c.Terms)
		fmt.Fprintf(bw, " %s %s\n", c.Sense, formatNumber(c.RHS))
	}
	bw.WriteString("Bounds\n")
	for _, v := range m.vars {
		lo, hi := v.Lower, v.Upper
		switch {
		case math.IsInf(lo, -1) && math.IsInf(hi, 1):
			fmt.Fprintf(bw, " %s free\n", v.Name)
		case math.IsInf(hi, 1):
			if lo != 0 {
				fmt.Fprintf(bw, " %s >= %s\n", v.Name, formatNumber(lo))
			}
		default:
			fmt.Fprintf(bw, " %s <= %s <= %s\n", formatBound(lo), v.Name, formatNumber(hi))
		}
	}
	bw.WriteString("End\n")
	return bw.Flush()
}

func writeTerms(bw *bufio.Writer, m *Model, terms []Term) {
	if len(terms) == 0 {
		if len(m.vars) > 0 {
			bw.WriteString(" 0 " + m.vars[0].Name)
		}
		return
	}
	for i, t := range terms {
		coef := t.Coef
		sign := "+"
		if coef < 0 {
			sign = "-"
			coef = -coef
		}
		if i == 0 && sign == "+" {
			fmt.Fprintf(bw, " %s %s", formatNumber(coef), m.vars[t.Var].Name)
			continue
		}
		fmt.Fprintf(bw, " %s %s %s", sign, formatNumber(coef), m.vars[t.Var].Name)
	}
}

func formatBound(v float64) string {
	if math.IsInf(v, -1) {
		return "-inf"
	}
	return formatNumber(v)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

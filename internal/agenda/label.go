package agenda

import (
	"fmt"
	"strings"
)

// Labeler renders the header label of a day.
type Labeler func(Date) string

var monthsPT = [...]string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

// LongDatePT formats d as "01 de março de 2024".
func LongDatePT(d Date) string {
	return fmt.Sprintf("%02d de %s de %04d", d.Day, monthsPT[d.Month-1], d.Year)
}

// LongDateEN formats d as "March 1, 2024".
func LongDateEN(d Date) string {
	return fmt.Sprintf("%s %d, %04d", d.Month.String(), d.Day, d.Year)
}

// LabelerFor picks a Labeler for a locale tag such as "pt-BR" or "en-US".
// Unknown locales get the Portuguese format.
func LabelerFor(locale string) Labeler {
	l := strings.ToLower(strings.TrimSpace(locale))
	if strings.HasPrefix(l, "en") {
		return LongDateEN
	}
	return LongDatePT
}

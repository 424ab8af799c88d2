// Package logx is a thin structured-logging layer over zerolog.
//
// The pipeline emits newline-delimited JSON events; logx keeps call sites
// terse (Field closures instead of zerolog's builder chains) and lets tests
// swap in Nop() or capture output through an io.Writer.
package logx

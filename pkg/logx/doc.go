// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so services can hold a plain Logger value while the app
// re-applies sink/level changes from config reloads underneath them.
package logx

// Package pherr defines the error kinds raised by the phkv storage engine
// and a small helper type that carries one of them alongside a message and
// an optional wrapped cause.
//
// Every package below lib/ returns errors constructed here rather than bare
// fmt.Errorf values, so that callers (and tests) can discriminate failure
// modes with Is instead of parsing strings.
package pherr

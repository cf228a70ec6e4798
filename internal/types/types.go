// README: Common identifier and geographic value objects used across modules.
package types

type ID string

type Point struct {
    Lat float64
    Lng float64
}

// Place is a named geographic point, e.g. "University" or "Airport".
type Place struct {
    Name string
    Point
}

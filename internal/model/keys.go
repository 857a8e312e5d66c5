package model

type InterceptKey struct {
	Window    int
	Flight    int
	Category  int
	Operation int
}

type SlopeKey struct {
	Window    int
	Prior     int
	Flight    int
	Category  int
	Operation int
}

type OverflowKey struct {
	Window   int
	Resource int
}

type CoverageKey struct {
	Window   int
	Flight   int
	Category int
	Method   int
}

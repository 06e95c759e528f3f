package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceZero(t *testing.T) {
	p := Point{Lat: 30.25, Lng: 120.17}
	assert.Equal(t, 0.0, Distance(p, p))
}

func TestDistanceSymmetric(t *testing.T) {
	a := Point{Lat: 39.9042, Lng: 116.4074} // Beijing
	b := Point{Lat: 31.2304, Lng: 121.4737} // Shanghai
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
}

func TestDistanceReference(t *testing.T) {
	// Beijing to Shanghai is roughly 1068 km great-circle.
	a := Point{Lat: 39.9042, Lng: 116.4074}
	b := Point{Lat: 31.2304, Lng: 121.4737}
	d := Distance(a, b)
	assert.InDelta(t, 1068000, d, 5000)

	// One degree of latitude at the equator.
	d = Distance(Point{0, 0}, Point{1, 0})
	assert.InDelta(t, 2*math.Pi*6378137/360, d, 1)
}

func TestParsePoint(t *testing.T) {
	p, err := ParsePoint("30.25", "120.17")
	require.NoError(t, err)
	assert.Equal(t, Point{Lat: 30.25, Lng: 120.17}, p)

	_, err = ParsePoint("not-a-number", "120.17")
	require.Error(t, err)

	_, err = ParsePoint("30.25", "")
	require.Error(t, err)
}

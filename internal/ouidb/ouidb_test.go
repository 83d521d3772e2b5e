package ouidb

import (
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(nil)
}

func TestNormalizeMac(t *testing.T) {
	assert.Equal(t, "aabbccddeeff", NormalizeMac("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "aabbccddeeff", NormalizeMac("aa-bb-cc-dd-ee-ff"))
	assert.Equal(t, "aabbccddeeff", NormalizeMac("aabb.ccdd.eeff"))
	assert.Equal(t, "b827eb", NormalizeMac(" B8-27-EB "))
	assert.Equal(t, "", NormalizeMac(""))
}

func TestLookupExactPrefix(t *testing.T) {
	s := newTestStore()
	s.insertForTest("B8:27:EB", "Raspberry Pi Foundation")

	vendor, ok := s.Lookup("b8:27:eb:12:34:56")
	require.True(t, ok)
	assert.Equal(t, "Raspberry Pi Foundation", vendor)

	_, ok = s.Lookup("b8:27:ec:12:34:56")
	assert.False(t, ok)
}

func TestLookupPrefersLongestPrefix(t *testing.T) {
	s := newTestStore()
	// an MA-L block with an MA-M carve-out
	s.insertForTest("aabbcc", "Block Holder")
	s.insertForTest("aabbcc1", "Carve-Out Vendor")
	s.insertForTest("aabbcc123", "Smallest Assignment")

	vendor, ok := s.Lookup("aa:bb:cc:12:34:56")
	require.True(t, ok)
	assert.Equal(t, "Smallest Assignment", vendor)

	vendor, ok = s.Lookup("aa:bb:cc:19:00:00")
	require.True(t, ok)
	assert.Equal(t, "Carve-Out Vendor", vendor)

	vendor, ok = s.Lookup("aa:bb:cc:99:00:00")
	require.True(t, ok)
	assert.Equal(t, "Block Holder", vendor)
}

func TestLookupRejectsShortInput(t *testing.T) {
	s := newTestStore()
	s.insertForTest("aabbcc", "Vendor")

	_, ok := s.Lookup("aa:bb")
	assert.False(t, ok)
	_, ok = s.Lookup("")
	assert.False(t, ok)
}

func TestLookupDoesNotCrossFloor(t *testing.T) {
	s := newTestStore()
	// a neighboring prefix below the floor must never match
	s.insertForTest("aabbcb", "Wrong Vendor")

	_, ok := s.Lookup("aa:bb:cc:00:00:01")
	assert.False(t, ok)
}

func TestCount(t *testing.T) {
	s := newTestStore()
	assert.Zero(t, s.Count())
	s.insertForTest("aabbcc", "One")
	s.insertForTest("ddeeff", "Two")
	assert.Equal(t, 2, s.Count())
}

func TestImportCSVFiltersRows(t *testing.T) {
	// parsing only; persistence is exercised against a live database
	body := "Registry,Assignment,Organization Name,Organization Address\n" +
		"MA-L,B827EB,Raspberry Pi Foundation,UK\n" +
		"MA-M,AABBCC1,Carve-Out Vendor,US\n" +
		"MA-L,,Missing Prefix,US\n" +
		"MA-L,ZZ,Bad Length,US\n"

	var rows []registryRow
	require.NoError(t, gocsv.UnmarshalString(body, &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, "B827EB", rows[0].Assignment)
	assert.Equal(t, "Raspberry Pi Foundation", rows[0].OrgName)
}

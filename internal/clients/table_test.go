package clients

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionCapRejectsOverflow(t *testing.T) {
	table := New(2)

	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()
	c1, c2 := net.Pipe()
	defer a1.Close()
	defer a2.Close()
	defer b1.Close()
	defer b2.Close()
	defer c1.Close()
	defer c2.Close()

	_, ok := table.TryAdmit(a1)
	require.True(t, ok)
	_, ok = table.TryAdmit(b1)
	require.True(t, ok)

	_, ok = table.TryAdmit(c1)
	assert.False(t, ok)
	assert.Equal(t, 2, table.Len())
}

func TestRemoveReleasesSlot(t *testing.T) {
	table := New(1)
	a1, a2 := net.Pipe()
	defer a2.Close()

	rec, ok := table.TryAdmit(a1)
	require.True(t, ok)
	a1.Close()
	table.Remove(a1)
	assert.Equal(t, 0, table.Len())

	b1, b2 := net.Pipe()
	defer b1.Close()
	defer b2.Close()
	_, ok = table.TryAdmit(b1)
	assert.True(t, ok)
	_ = rec
}

func TestSetReceivingAndIdle(t *testing.T) {
	table := New(1)
	a1, a2 := net.Pipe()
	defer a1.Close()
	defer a2.Close()

	rec, ok := table.TryAdmit(a1)
	require.True(t, ok)

	table.SetReceiving(rec, &CurrentFile{Name: "report.pdf", Total: 1024})
	assert.Equal(t, StatusReceiving, rec.Status)
	assert.Equal(t, uint64(1024), rec.CurrentFile.Total)

	table.SetIdle(rec)
	assert.Equal(t, StatusIdle, rec.Status)
	assert.Nil(t, rec.CurrentFile)
}

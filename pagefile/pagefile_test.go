package pagefile

import (
	"bytes"
	"path/filepath"
	"testing"

	"burrow-db/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillPage(b byte) []byte {
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = b
	}
	return page
}

func TestPageFileOperations(t *testing.T) {
	logger := logging.CreateSilentLogger()
	path := filepath.Join(t.TempDir(), "test.pages")

	t.Run("create and allocate", func(t *testing.T) {
		pf, err := Create(logger, path)
		require.Nil(t, err)
		assert.True(t, IsOpen(path))

		for want := PageID(1); want <= 3; want++ {
			pageNo, err := pf.AllocatePage()
			assert.Nil(t, err)
			assert.Equal(t, want, pageNo)
		}
		assert.Equal(t, PageID(1), pf.FirstPageNo())
		assert.Equal(t, uint32(3), pf.PageCount())

		assert.Nil(t, pf.WritePage(2, fillPage(0xAB)))

		buffer := make([]byte, PageSize)
		assert.Nil(t, pf.ReadPage(2, buffer))
		assert.True(t, bytes.Equal(fillPage(0xAB), buffer))

		// a freshly allocated page reads back zeroed
		assert.Nil(t, pf.ReadPage(3, buffer))
		assert.True(t, bytes.Equal(fillPage(0), buffer))

		assert.Nil(t, pf.Close())
		assert.False(t, IsOpen(path))
	})

	t.Run("reopen keeps pages", func(t *testing.T) {
		pf, err := Open(logger, path)
		require.Nil(t, err)
		assert.Equal(t, uint32(3), pf.PageCount())
		assert.Equal(t, PageID(1), pf.FirstPageNo())

		buffer := make([]byte, PageSize)
		assert.Nil(t, pf.ReadPage(2, buffer))
		assert.True(t, bytes.Equal(fillPage(0xAB), buffer))
		assert.Nil(t, pf.Close())
	})

	t.Run("delete releases the id for reuse", func(t *testing.T) {
		pf, err := Open(logger, path)
		require.Nil(t, err)

		assert.Nil(t, pf.DeletePage(1))
		assert.Equal(t, PageID(2), pf.FirstPageNo())
		assert.Equal(t, uint32(2), pf.PageCount())

		buffer := make([]byte, PageSize)
		assert.ErrorIs(t, pf.ReadPage(1, buffer), ErrInvalidPage)

		pageNo, err := pf.AllocatePage()
		assert.Nil(t, err)
		assert.Equal(t, PageID(1), pageNo)
		assert.Equal(t, PageID(1), pf.FirstPageNo())
		assert.Nil(t, pf.Close())
	})

	t.Run("sequential iteration", func(t *testing.T) {
		pf, err := Open(logger, path)
		require.Nil(t, err)
		assert.Nil(t, pf.DeletePage(2))

		visited := []PageID{}
		for pageNo, err := pf.NextPageNo(0); err == nil; pageNo, err = pf.NextPageNo(pageNo) {
			visited = append(visited, pageNo)
		}
		assert.Equal(t, []PageID{1, 3}, visited)

		_, err = pf.NextPageNo(3)
		assert.ErrorIs(t, err, ErrEOF)
		assert.Nil(t, pf.Close())
	})
}

func TestPageFileErrors(t *testing.T) {
	logger := logging.CreateSilentLogger()
	dir := t.TempDir()

	_, err := Open(logger, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	path := filepath.Join(dir, "test.pages")
	pf, err := Create(logger, path)
	require.Nil(t, err)

	_, err = Create(logger, path)
	assert.ErrorIs(t, err, ErrFileExists)

	buffer := make([]byte, PageSize)
	assert.ErrorIs(t, pf.ReadPage(0, buffer), ErrInvalidPage)
	assert.ErrorIs(t, pf.WritePage(9, buffer), ErrInvalidPage)
	assert.ErrorIs(t, pf.DeletePage(9), ErrInvalidPage)

	assert.Nil(t, pf.Close())
	_, err = pf.AllocatePage()
	assert.ErrorIs(t, err, ErrFileClosed)
}

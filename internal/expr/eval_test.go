package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	binary  map[int]string
	comm    map[int]string
	cmdline map[int][]byte
	status  map[int][3]uint32
}

func (f *fakeFetcher) BinaryPath(pid int) (string, error) {
	if b, ok := f.binary[pid]; ok {
		return b, nil
	}
	return "", errors.New("no such process")
}

func (f *fakeFetcher) Comm(pid int) (string, error) {
	if c, ok := f.comm[pid]; ok {
		return c, nil
	}
	return "", errors.New("no such process")
}

func (f *fakeFetcher) Cmdline(pid int) ([]byte, error) {
	if c, ok := f.cmdline[pid]; ok {
		return c, nil
	}
	return nil, errors.New("no such process")
}

func (f *fakeFetcher) Status(pid int) (euid, egid uint32, ppid int, err error) {
	if s, ok := f.status[pid]; ok {
		return s[0], s[1], int(s[2]), nil
	}
	return 0, 0, 0, errors.New("no such process")
}

func TestCmpRejectsTypeMismatch(t *testing.T) {
	_, err := Cmp(PropEuid, OpEq, StringValue("root"))
	require.Error(t, err)

	_, err = Cmp(PropBinaryPath, OpEq, Uint32Value(1))
	require.Error(t, err)
}

func TestEvalBinaryPath(t *testing.T) {
	f := &fakeFetcher{binary: map[int]string{4242: "/usr/bin/x"}}
	attrs := NewAttrs(4242, 4242, "", f)

	n, err := Cmp(PropBinaryPath, OpEq, StringValue("/usr/bin/x"))
	require.NoError(t, err)
	assert.True(t, Eval(n, attrs))

	n2, err := Cmp(PropBinaryPath, OpNe, StringValue("/usr/bin/y"))
	require.NoError(t, err)
	assert.True(t, Eval(n2, attrs))
}

func TestEvalArgNMissingIsEmpty(t *testing.T) {
	f := &fakeFetcher{cmdline: map[int][]byte{1: []byte("/bin/sh\x00-c\x00")}}
	attrs := NewAttrs(1, 1, "/bin/sh", f)

	n, err := Cmp(PropArgN(5), OpEq, StringValue(""))
	require.NoError(t, err)
	assert.True(t, Eval(n, attrs), "a missing argN resolves to the empty string, which equals an empty literal")

	n3, err := Cmp(PropArgN(5), OpEq, StringValue("nonempty"))
	require.NoError(t, err)
	assert.False(t, Eval(n3, attrs), "a missing argN never equals a non-empty literal")

	n2, err := Cmp(PropArgN(1), OpEq, StringValue("-c"))
	require.NoError(t, err)
	assert.True(t, Eval(n2, attrs))
}

func TestEvalAndOrNot(t *testing.T) {
	f := &fakeFetcher{status: map[int][3]uint32{10: {1000, 1000, 1}}}
	attrs := NewAttrs(10, 10, "/usr/bin/z", f)

	euidIsRoot, _ := Cmp(PropEuid, OpEq, Uint32Value(0))
	euidNotRoot, _ := Cmp(PropEuid, OpNe, Uint32Value(0))

	assert.False(t, Eval(euidIsRoot, attrs))
	assert.True(t, Eval(euidNotRoot, attrs))
	assert.True(t, Eval(Not(euidIsRoot), attrs))
	assert.True(t, Eval(Or(euidIsRoot, euidNotRoot), attrs))
	assert.False(t, Eval(And(euidIsRoot, euidNotRoot), attrs))
}

func TestEvalParentBinaryMissingFetchIsFalse(t *testing.T) {
	f := &fakeFetcher{status: map[int][3]uint32{5: {0, 0, 999}}}
	attrs := NewAttrs(5, 5, "/bin/child", f)

	n, _ := Cmp(PropParentBinary, OpEq, StringValue("/bin/parent"))
	assert.False(t, Eval(n, attrs))
}

func TestEvalStringLessThanNullOrdering(t *testing.T) {
	f := &fakeFetcher{status: map[int][3]uint32{5: {0, 0, 999}}}
	attrs := NewAttrs(5, 5, "/bin/child", f)

	// Parent binary fetch fails -> ParentBinary stays null, which sorts
	// before any non-null literal under "<".
	n, _ := Cmp(PropParentBinary, OpLt, StringValue("/bin/anything"))
	assert.True(t, Eval(n, attrs))
}

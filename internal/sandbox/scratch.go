package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// scratchFS is the only "filesystem" visible inside a sandbox run: an
// in-memory map that is created per run and discarded on teardown. Writes
// made by proposed content land here and nowhere else, which is what makes
// the isolation guarantee checkable.
type scratchFS struct {
	files map[string]string
}

func newScratchFS() *scratchFS {
	return &scratchFS{files: make(map[string]string)}
}

// module exposes the scratch filesystem to Starlark as
// scratch.write/read/remove/exists/list.
func (fs *scratchFS) module() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "scratch",
		Members: starlark.StringDict{
			"write":  starlark.NewBuiltin("scratch.write", fs.write),
			"read":   starlark.NewBuiltin("scratch.read", fs.read),
			"remove": starlark.NewBuiltin("scratch.remove", fs.remove),
			"exists": starlark.NewBuiltin("scratch.exists", fs.exists),
			"list":   starlark.NewBuiltin("scratch.list", fs.list),
		},
	}
}

func (fs *scratchFS) write(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, data string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "data", &data); err != nil {
		return nil, err
	}
	fs.files[path] = data
	return starlark.None, nil
}

func (fs *scratchFS) read(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	data, ok := fs.files[path]
	if !ok {
		return nil, fmt.Errorf("%s: no such scratch file: %s", b.Name(), path)
	}
	return starlark.String(data), nil
}

func (fs *scratchFS) remove(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	delete(fs.files, path)
	return starlark.None, nil
}

func (fs *scratchFS) exists(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	_, ok := fs.files[path]
	return starlark.Bool(ok), nil
}

func (fs *scratchFS) list(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(fs.files))
	for p := range fs.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	elems := make([]starlark.Value, len(paths))
	for i, p := range paths {
		elems[i] = starlark.String(p)
	}
	return starlark.NewList(elems), nil
}

package search

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

const artifactVersion = 1

// artifact is the on-disk form of a build. It is a cache: deleting it loses
// nothing, the next Rebuild regenerates it from the catalog.
type artifact struct {
	Version  int                  `json:"version"`
	Params   Params               `json:"params"`
	BuiltAt  time.Time            `json:"built_at"`
	Lengths  map[int64]float64    `json:"lengths"`
	Postings map[string][]Posting `json:"postings"`
}

// Save writes the current build to path. Saving an unbuilt index is an error.
func (x *Index) Save(path string) error {
	snap := x.current.Load()
	if snap == nil {
		return liberrors.New(liberrors.KindNotFound, "search.Save", "index has not been built")
	}

	data, err := json.Marshal(artifact{
		Version:  artifactVersion,
		Params:   snap.params,
		BuiltAt:  snap.stats.BuiltAt,
		Lengths:  snap.lengths,
		Postings: snap.postings,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".search-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load replaces the current build with the artifact at path. A missing file
// is NotFound; an artifact built with different parameters is rejected so the
// caller rebuilds instead.
func (x *Index) Load(path string) error {
	const op = "search.Load"

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return liberrors.Newf(liberrors.KindNotFound, op, "no index artifact at %s", path)
	}
	if err != nil {
		return err
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return liberrors.Wrap(liberrors.KindCorrupted, op, "decode artifact", err)
	}
	if a.Version != artifactVersion {
		return liberrors.Newf(liberrors.KindCorrupted, op, "artifact version %d, want %d", a.Version, artifactVersion)
	}
	if a.Params != x.params {
		return liberrors.New(liberrors.KindInvalidConfiguration, op, fmt.Sprintf("artifact built with %+v", a.Params))
	}

	snap := &snapshot{
		params:   a.Params,
		postings: a.Postings,
		df:       make(map[string]int, len(a.Postings)),
		lengths:  a.Lengths,
	}
	if snap.postings == nil {
		snap.postings = make(map[string][]Posting)
	}
	if snap.lengths == nil {
		snap.lengths = make(map[int64]float64)
	}

	for term, postings := range snap.postings {
		var last int64
		for i, p := range postings {
			if i == 0 || p.Resource != last {
				snap.df[term]++
			}
			last = p.Resource
		}
	}

	// Sum in id order, as Rebuild does, so scores match the original build.
	ids := make([]int64, 0, len(snap.lengths))
	for id := range snap.lengths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var total float64
	for _, id := range ids {
		total += snap.lengths[id]
	}
	if len(snap.lengths) > 0 {
		snap.avgLen = total / float64(len(snap.lengths))
	}

	snap.stats = Stats{
		Documents:     len(snap.lengths),
		Terms:         len(snap.postings),
		AverageLength: snap.avgLen,
		BuiltAt:       a.BuiltAt,
	}

	x.current.Store(snap)
	x.logger.Debug("index loaded", "path", path, "documents", snap.stats.Documents)
	return nil
}

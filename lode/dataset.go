package lode

import (
	"strings"

	"github.com/justapithecus/lode/lode"
)

// Partition keys, outermost first.
var partitionKeys = []string{"pipeline", "day", "run_id", "record_kind"}

// NewDataset creates the review dataset over factory.
// Reads and writes share codec and layout.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewDatasetFS creates the dataset with filesystem storage rooted at rootPath.
// rootPath must already exist.
func NewDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewDataset(dataset, lode.NewFSFactory(rootPath))
}

// snapshotMatchesFilter checks if a snapshot's file paths match
// the given partition key=value filter. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so that
// run_id=run-1 does not match run_id=run-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}

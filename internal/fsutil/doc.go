// Package fsutil provides the directory operations the workflow store needs:
// recursive template copies and content fingerprints used to detect whether
// two template folders hold the same template.
package fsutil

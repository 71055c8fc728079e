package piecestore

import "path/filepath"

// joinPath rebuilds an OS path from a manifest's path-component list rooted
// under root, the inverse of torrentfile's splitPath.
func joinPath(root string, components []string) string {
	parts := append([]string{root}, components...)
	return filepath.Join(parts...)
}

//go:build !linux

package socket

func relocate(from, to string) error {
	return relocateChecked(from, to)
}

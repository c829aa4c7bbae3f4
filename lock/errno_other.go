//go:build !unix

package lock

func isDiskFull(error) bool { return false }

func isReadOnly(error) bool { return false }

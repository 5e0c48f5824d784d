//go:build !linux

package bridge

import "fmt"

func FindKeyboardEvent() (string, error) {
	return "", fmt.Errorf("bridge requires linux")
}

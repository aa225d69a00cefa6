// Package auth guards the function route with function keys.
package auth

package engine

import "os"

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// withDetect swaps the function workers and fallbacks call.
func withDetect(f detectFunc) DispatcherOption {
	return func(d *Dispatcher) { d.detect = f }
}

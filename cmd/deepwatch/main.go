// Command deepwatch runs deepfake detection sessions on screen video and
// call audio, standalone or behind an HTTP/WebSocket API.
package main

import "github.com/GriffinCanCode/deepwatch/internal/cli"

func main() {
	cli.Execute()
}

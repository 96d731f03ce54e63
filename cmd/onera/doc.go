// Command onera inspects, edits and exports timeline project files. Exports run
// locally through ffmpeg or on a remote render service.
package main

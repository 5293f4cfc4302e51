// Package feed publishes solver state for visualization.
//
// [Capture] reads one field of every level back to the host as a
// [Snapshot]. Snapshots render to PNG slices with [RenderSlice] and stream
// to websocket clients through a [Server]. Capturing stalls on device
// readback and is meant for debugging and preview, not for every frame of
// a production run.
package feed

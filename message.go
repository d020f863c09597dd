package main

const (
	MsgBusy = "FPGA busy, frame dropped"

	MsgNoFrame = "No frame received"

	MsgFrameTooLarge = "Frame too large"

	MsgInvalidImage = "Frame is not a valid image"

	StatusSkipped = "skipped"
)

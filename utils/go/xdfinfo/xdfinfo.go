// SPDX-License-Identifier: GPL-2.0-or-later

// Package xdfinfo is a CLI utility that prints the contents of a
// recording file.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"srec/pkg/xdf"
)

const usage = `print the contents of a recording file
example: xdfinfo ./storage/recordings/untitled.xdf`

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

type streamSummary struct {
	info    xdf.Info
	samples int
}

func run() error { //nolint:funlen
	args := os.Args
	if len(args) != 2 {
		fmt.Println(usage)
		return nil
	}
	path := args[1]

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}
	fmt.Printf("File: %v\nSize: %v bytes\n\n", path, stat.Size())

	logf := func(format string, a ...interface{}) {
		fmt.Printf("warning: "+format+"\n", a...)
	}
	reader, err := xdf.NewReader(file, logf)
	if err != nil {
		return err
	}

	chunkCounts := map[xdf.Tag]int{}
	streams := map[uint32]*streamSummary{}
	var order []uint32
	var chunkNum, totalSamples int

	for {
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read chunk %v: %w", chunkNum+1, err)
		}
		chunkNum++
		chunkCounts[chunk.Tag]++

		fmt.Printf("chunk %v: %v (%v bytes)\n",
			chunkNum, chunk.Tag, len(chunk.Payload))

		switch chunk.Tag {
		case xdf.TagStreamHeader:
			info, err := xdf.ParseInfo(chunk.Payload)
			if err != nil {
				fmt.Printf("  warning: bad header: %v\n", err)
				continue
			}
			streams[chunk.StreamID] = &streamSummary{info: info}
			order = append(order, chunk.StreamID)
			fmt.Printf("  stream %v: %v (%v) %vch @ %vHz %v\n",
				chunk.StreamID, info.Name, info.Type,
				info.ChannelCount, info.SampleRate, info.Format)

		case xdf.TagStreamFooter:
			footer, err := xdf.ParseFooter(chunk.Payload)
			if err != nil {
				fmt.Printf("  warning: bad footer: %v\n", err)
				continue
			}
			fmt.Printf("  stream %v: %v samples, first=%v last=%v\n",
				chunk.StreamID, footer.SampleCount,
				footer.FirstTimestamp, footer.LastTimestamp)

		case xdf.TagSamples:
			stream, exists := streams[chunk.StreamID]
			if !exists {
				fmt.Printf("  stream %v: unknown stream\n", chunk.StreamID)
				continue
			}
			samples, err := xdf.DecodeSamples(
				chunk.Payload, stream.info.Format, stream.info.ChannelCount)
			if err != nil {
				fmt.Printf("  warning: bad samples: %v\n", err)
				continue
			}
			stream.samples += samples.Len()
			totalSamples += samples.Len()
			fmt.Printf("  stream %v: %v samples\n", chunk.StreamID, samples.Len())

		case xdf.TagClockOffset:
			offset, err := xdf.DecodeClockOffset(chunk.Payload)
			if err != nil {
				fmt.Printf("  warning: bad clock offset: %v\n", err)
				continue
			}
			fmt.Printf("  stream %v: time=%.4f offset=%.6f\n",
				chunk.StreamID, offset.CollectionTime, offset.Offset)
		}
	}

	fmt.Printf("\nTotal chunks: %v\n", chunkNum)
	for tag := xdf.TagFileHeader; tag <= xdf.TagStreamFooter; tag++ {
		if count := chunkCounts[tag]; count > 0 {
			fmt.Printf("  %v: %v\n", tag, count)
		}
	}

	fmt.Println("\nStreams:")
	for _, id := range order {
		stream := streams[id]
		fmt.Printf("  %v: %v (%v) %v samples\n",
			id, stream.info.Name, stream.info.Type, stream.samples)
	}
	fmt.Printf("\nTotal samples across all streams: %v\n", totalSamples)

	return nil
}

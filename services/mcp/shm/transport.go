// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package shm

// Duplex pairs two Rings into one bidirectional transport: Writer carries
// bytes this side produces, Reader carries bytes the peer produced. Two
// files back the pair: <path>_reader and <path>_writer.
type Duplex struct {
	Reader *Ring
	Writer *Ring
}

// CreateDuplex creates both ring files at basePath+"_reader" and
// basePath+"_writer", from the perspective of the side that owns (creates)
// the transport — typically the server. The peer must call OpenDuplex on
// the same basePath, which opens the same two files with Reader/Writer
// swapped so each side's Writer is the other side's Reader.
func CreateDuplex(basePath string, capacity uint64) (*Duplex, error) {
	reader, err := CreateRing(basePath+"_reader", capacity)
	if err != nil {
		return nil, err
	}
	writer, err := CreateRing(basePath+"_writer", capacity)
	if err != nil {
		reader.Close()
		return nil, err
	}
	return &Duplex{Reader: reader, Writer: writer}, nil
}

// OpenDuplex opens an existing duplex as the peer of whoever called
// CreateDuplex: this side's Reader is the owner's _writer file, and this
// side's Writer is the owner's _reader file.
func OpenDuplex(basePath string) (*Duplex, error) {
	reader, err := OpenRing(basePath + "_writer")
	if err != nil {
		return nil, err
	}
	writer, err := OpenRing(basePath + "_reader")
	if err != nil {
		reader.Close()
		return nil, err
	}
	return &Duplex{Reader: reader, Writer: writer}, nil
}

// Close releases both rings' mappings and file descriptors.
func (d *Duplex) Close() error {
	err := d.Reader.Close()
	if werr := d.Writer.Close(); err == nil {
		err = werr
	}
	return err
}

// Package fileserver implements the ISO 11783-13 file server and
// client: function-code dispatch, TAN idempotency, client-connection
// maintenance (CCM), handle allocation, DOS-style path resolution,
// wildcard directory listing, and the volume state machine, per
// ISO 11783-13. A function-code byte selects a handler, which
// produces one reply, generalized from a single-frame
// object-dictionary commands to file-server function codes.
package fileserver

import "fmt"

// Code is one of the 21 ISO 11783-13 file-server error/status codes.
// Code 0 (Success) is not itself an error; it is the code a successful
// response carries in its error-code byte.
type Code uint8

const (
	Success                   Code = 0
	AccessDenied              Code = 1
	InvalidAccess             Code = 2
	TooManyOpen               Code = 3
	FilePathNotFound          Code = 4
	InvalidHandle             Code = 5
	InvalidSourceName         Code = 6
	InvalidDestinationName    Code = 7
	VolumeOutOfFreeSpace      Code = 8
	WriteFail                 Code = 9
	MediaNotPresent           Code = 10
	AnyOtherError             Code = 11
	EndOfFile                 Code = 12
	FileNotOpenForWriting     Code = 13
	FileNotOpenForReading     Code = 14
	FileIsOpen                Code = 15
	DirectoryNotEmpty         Code = 16
	FileAlreadyExists         Code = 17
	InvalidFileOrPathName     Code = 18
	MaxHandles                Code = 19
	OutOfMemory               Code = 20
)

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case AccessDenied:
		return "access_denied"
	case InvalidAccess:
		return "invalid_access"
	case TooManyOpen:
		return "too_many_open"
	case FilePathNotFound:
		return "file_path_not_found"
	case InvalidHandle:
		return "invalid_handle"
	case InvalidSourceName:
		return "invalid_source_name"
	case InvalidDestinationName:
		return "invalid_destination_name"
	case VolumeOutOfFreeSpace:
		return "volume_out_of_free_space"
	case WriteFail:
		return "write_fail"
	case MediaNotPresent:
		return "media_not_present"
	case AnyOtherError:
		return "any_other_error"
	case EndOfFile:
		return "end_of_file"
	case FileNotOpenForWriting:
		return "file_not_open_for_writing"
	case FileNotOpenForReading:
		return "file_not_open_for_reading"
	case FileIsOpen:
		return "file_is_open"
	case DirectoryNotEmpty:
		return "directory_not_empty"
	case FileAlreadyExists:
		return "file_already_exists"
	case InvalidFileOrPathName:
		return "invalid_file_or_path_name"
	case MaxHandles:
		return "max_handles"
	case OutOfMemory:
		return "out_of_memory"
	default:
		return "unknown"
	}
}

// FSError wraps a Code as a Go error, surfaced to the file client
// callback.
type FSError struct {
	Code Code
}

func (e *FSError) Error() string {
	return fmt.Sprintf("fileserver: %s", e.Code)
}

func fsErr(c Code) error {
	if c == Success {
		return nil
	}
	return &FSError{Code: c}
}

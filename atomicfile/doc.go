/*
Package atomicfile writes a file so that it either has the full new content
or doesn't get created (or overwritten) at all.

Data is written to a temporary file in the destination directory which
is renamed to the destination path on successful Close(). On any error
the temporary file is removed.

	func writeSnapshot(s *kvstore.Store, dstPath string) error {
		w, err := atomicfile.New(dstPath)
		if err != nil {
			return err
		}
		// removes temp file if we return before Close()
		defer w.RemoveIfNotClosed()

		_, err = io.Copy(w, snapshotReader(s))
		if err != nil {
			return err
		}
		return w.Close()
	}
*/
package atomicfile

package store

import (
	"context"
)

const fileColumns = "id, class_id, uploaded_by, storage_path, original_name, mime, size, sha256, created_at"

func (d *DB) CreateFile(ctx context.Context, f *File) error {
	now := d.now()

	id, err := d.insert(ctx,
		"INSERT INTO files (class_id, uploaded_by, storage_path, original_name, mime, size, sha256, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		f.ClassID, f.UploadedBy, f.StoragePath, f.OriginalName, f.Mime, f.Size, f.SHA256, now,
	)
	if err != nil {
		return err
	}

	f.ID, f.CreatedAt = id, now

	return nil
}

func (d *DB) GetFile(ctx context.Context, id int64) (*File, error) {
	var f File

	err := d.get(ctx, &f, "SELECT "+fileColumns+" FROM files WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "file %d not found", id)
	}

	return &f, nil
}

func (d *DB) AttachSubmissionFile(ctx context.Context, submissionID, fileID int64) error {
	_, err := d.exec(ctx, "INSERT INTO submission_files (submission_id, file_id) VALUES (?, ?)", submissionID, fileID)
	return err
}

func (d *DB) ListSubmissionFiles(ctx context.Context, submissionID int64) ([]File, error) {
	var fs []File

	err := d.selectAll(ctx, &fs,
		"SELECT f.id, f.class_id, f.uploaded_by, f.storage_path, f.original_name, f.mime, f.size, f.sha256, f.created_at "+
			"FROM files f JOIN submission_files sf ON sf.file_id = f.id WHERE sf.submission_id = ? ORDER BY f.id",
		submissionID,
	)

	return fs, err
}

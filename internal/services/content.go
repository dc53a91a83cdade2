package services

import (
	"fmt"

	"gorm.io/gorm"

	"memoria/internal/errs"
	"memoria/internal/models"
)

// Dependent names a table whose rows reference a content item through
// Column and must be removed before the item itself.
type Dependent struct {
	Model  any
	Column string
}

var (
	// postDependents: comments, then likes, then bookmarks.
	postDependents = []Dependent{
		{Model: &models.PostComment{}, Column: "post_id"},
		{Model: &models.PostLike{}, Column: "post_id"},
		{Model: &models.PostBookmark{}, Column: "post_id"},
	}
	memoryDependents = []Dependent{
		{Model: &models.MemoryLike{}, Column: "memory_id"},
	}
)

// DeleteWithDependents removes every dependent row in the declared order
// and then the item. It must run inside the caller's transaction so a
// failure leaves nothing half-deleted.
func DeleteWithDependents(tx *gorm.DB, model any, id uint, deps ...Dependent) error {
	for _, dep := range deps {
		if err := tx.Where(dep.Column+" = ?", id).Delete(dep.Model).Error; err != nil {
			return errs.Upstreamf(err, "delete dependents from %T", dep.Model)
		}
	}

	res := tx.Delete(model, id)
	if res.Error != nil {
		return errs.Upstreamf(res.Error, "delete %T %d", model, id)
	}
	if res.RowsAffected == 0 {
		return errs.Errorf(errs.NotFound, "%s not found", itemName(model))
	}
	return nil
}

func itemName(model any) string {
	switch model.(type) {
	case *models.Post:
		return "post"
	case *models.PostComment, *models.MemorialComment:
		return "comment"
	case *models.Memory:
		return "memory"
	case *models.MemorialPage:
		return "memorial"
	default:
		return fmt.Sprintf("%T", model)
	}
}

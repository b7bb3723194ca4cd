package categories

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

func (s *Service) validateCategory(c Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := s.validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrValidation, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if c.ParentID != nil && c.ID != 0 && *c.ParentID == c.ID {
		return fmt.Errorf("%w: category cannot be its own parent", ErrValidation)
	}
	return nil
}

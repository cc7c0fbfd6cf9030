// internal/browser/keyboard.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/tms-executor/api/schemas"
)

// namedKeys maps key names onto the runes chromedp's key encoder expects.
var namedKeys = map[string]string{
	schemas.KeyTab:       kb.Tab,
	schemas.KeyEnter:     kb.Enter,
	schemas.KeyArrowDown: kb.ArrowDown,
	schemas.KeyBackspace: kb.Backspace,
}

// modifierKey describes a key that only changes the modifier state.
type modifierKey struct {
	code     string
	vk       int64
	modifier input.Modifier
}

var modifierKeys = map[string]modifierKey{
	schemas.KeyControl: {code: "ControlLeft", vk: 17, modifier: input.ModifierCtrl},
	"Shift":            {code: "ShiftLeft", vk: 16, modifier: input.ModifierShift},
	"Alt":              {code: "AltLeft", vk: 18, modifier: input.ModifierAlt},
	"Meta":             {code: "MetaLeft", vk: 91, modifier: input.ModifierMeta},
}

// keyboard dispatches key events to the focused element and tracks held
// modifiers between Down and Up.
type keyboard struct {
	page *Page

	mu   sync.Mutex
	held input.Modifier
}

var _ schemas.Keyboard = (*keyboard)(nil)

func (k *keyboard) modifiers() []input.Modifier {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.held == 0 {
		return nil
	}
	return []input.Modifier{k.held}
}

func (k *keyboard) keyEvent(key string) chromedp.Action {
	if mods := k.modifiers(); len(mods) > 0 {
		return chromedp.KeyEvent(key, chromedp.KeyModifiers(mods...))
	}
	return chromedp.KeyEvent(key)
}

// Type sends text one character at a time, pausing delay between characters.
func (k *keyboard) Type(ctx context.Context, text string, delay time.Duration) error {
	for i, r := range []rune(text) {
		if i > 0 {
			if err := k.page.Sleep(ctx, delay); err != nil {
				return err
			}
		}
		if err := k.page.run(ctx, k.page.actionTimeout, k.keyEvent(string(r))); err != nil {
			return fmt.Errorf("type %q: %w", string(r), err)
		}
	}
	return nil
}

func (k *keyboard) Press(ctx context.Context, key string) error {
	seq, ok := namedKeys[key]
	if !ok {
		seq = key
	}
	if err := k.page.run(ctx, k.page.actionTimeout, k.keyEvent(seq)); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

// Down holds key. Only modifier keys can be held.
func (k *keyboard) Down(ctx context.Context, key string) error {
	mk, ok := modifierKeys[key]
	if !ok {
		return fmt.Errorf("key down %s: only modifier keys can be held", key)
	}

	k.mu.Lock()
	k.held |= mk.modifier
	mods := k.held
	k.mu.Unlock()

	ev := input.DispatchKeyEvent(input.KeyRawDown).
		WithKey(key).
		WithCode(mk.code).
		WithWindowsVirtualKeyCode(mk.vk).
		WithModifiers(mods)
	if err := k.page.run(ctx, k.page.actionTimeout, ev); err != nil {
		return fmt.Errorf("key down %s: %w", key, err)
	}
	return nil
}

func (k *keyboard) Up(ctx context.Context, key string) error {
	mk, ok := modifierKeys[key]
	if !ok {
		return fmt.Errorf("key up %s: only modifier keys can be released", key)
	}

	k.mu.Lock()
	k.held &^= mk.modifier
	mods := k.held
	k.mu.Unlock()

	ev := input.DispatchKeyEvent(input.KeyUp).
		WithKey(key).
		WithCode(mk.code).
		WithWindowsVirtualKeyCode(mk.vk).
		WithModifiers(mods)
	if err := k.page.run(ctx, k.page.actionTimeout, ev); err != nil {
		return fmt.Errorf("key up %s: %w", key, err)
	}
	return nil
}

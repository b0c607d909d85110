package scraper

// mediaSuppressJS stops pages from playing sound while being rendered
// headlessly: running media is paused and muted, new media elements are
// caught by a mutation observer, play() is rejected while the page is
// hidden, and audio contexts are blocked outright.
const mediaSuppressJS = `
(() => {
	const pauseAllMedia = (root) => {
		root.querySelectorAll('video, audio').forEach((el) => {
			try {
				el.pause();
				el.removeAttribute('autoplay');
				el.autoplay = false;
				el.muted = true;
				el.volume = 0;
			} catch (e) {}
		});
	};
	pauseAllMedia(document);

	new MutationObserver(() => pauseAllMedia(document)).observe(document.documentElement, {
		childList: true,
		subtree: true,
	});

	const origPlay = HTMLMediaElement.prototype.play;
	HTMLMediaElement.prototype.play = function () {
		if (document.hidden || !document.hasFocus()) {
			return Promise.reject(new DOMException('playback suppressed', 'NotAllowedError'));
		}
		const result = origPlay.apply(this, arguments);
		try { this.pause(); } catch (e) {}
		return result;
	};

	document.addEventListener('visibilitychange', () => pauseAllMedia(document));

	const blockCtor = () => { throw new DOMException('audio suppressed', 'NotAllowedError'); };
	try { window.AudioContext = blockCtor; } catch (e) {}
	try { window.webkitAudioContext = blockCtor; } catch (e) {}

	document.querySelectorAll('iframe').forEach((frame) => {
		try {
			if (frame.contentDocument) pauseAllMedia(frame.contentDocument);
		} catch (e) {}
	});
})();
`
